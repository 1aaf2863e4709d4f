// Package cache implements the worker's two-tier artifact cache: an
// in-memory L1 map and an on-disk L2 directory, both keyed by function
// UUID and checked for freshness against the gateway's reported
// deployment timestamp.
package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// L1 is a process-wide, in-memory cache of compiled/compilable artifacts.
// It is the only process-wide mutable structure in the worker; every
// other piece of state is connection-local. Modeled on the reader/writer
// discipline of a RWMutex-guarded map, as DeBrosOfficial's module cache
// does for compiled wazero modules.
type L1 struct {
	mu       sync.RWMutex
	entries  map[serverless.FunctionID]serverless.Artifact
	capacity int
	order    []serverless.FunctionID
	logger   *zap.Logger
}

// NewL1 builds an empty L1 cache. capacity of 0 means unbounded.
func NewL1(capacity int, logger *zap.Logger) *L1 {
	return &L1{
		entries:  make(map[serverless.FunctionID]serverless.Artifact),
		capacity: capacity,
		logger:   logger,
	}
}

// Get returns the cached artifact for id if present and at least as
// fresh as wantDeployedAt (artifact.DeployedAt >= wantDeployedAt).
func (c *L1) Get(id serverless.FunctionID, wantDeployedAt serverless.DeploymentTimestamp) (serverless.Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	artifact, ok := c.entries[id]
	if !ok {
		return serverless.Artifact{}, false
	}
	if artifact.DeployedAt < wantDeployedAt {
		return serverless.Artifact{}, false
	}
	return artifact, true
}

// Set inserts or overwrites the artifact for id. Last writer wins; no
// freshness comparison is performed on write. With a capacity of 0 no
// entry is ever evicted; otherwise, once the cache holds more than
// capacity entries, the entry inserted earliest is evicted.
func (c *L1) Set(id serverless.FunctionID, artifact serverless.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists {
		c.order = append(c.order, id)
	}
	c.entries[id] = artifact

	if c.capacity > 0 && len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// Delete removes id from the cache, forcing the next lookup for it down
// to L2/origin. The fetcher itself never calls it: a stale entry is
// simply overwritten by the next Set.
func (c *L1) Delete(id serverless.FunctionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Size returns the number of cached entries.
func (c *L1) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *L1) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
	if c.logger != nil {
		c.logger.Debug("evicted L1 cache entry", zap.String("function_id", oldest.String()))
	}
}
