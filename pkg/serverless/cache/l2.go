package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// L2 is the on-disk artifact cache. It holds the raw WebAssembly bytes
// written there by a prior origin fetch, not a serialized compiled
// module; every hit is nonetheless reported with Precompiled=true. L2
// itself never performs precompilation.
type L2 struct {
	dir    string
	logger *zap.Logger
}

// NewL2 returns an L2 cache rooted at dir. The directory is created if it
// does not already exist.
func NewL2(dir string, logger *zap.Logger) (*L2, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating L2 cache dir %q: %w", dir, err)
	}
	return &L2{dir: dir, logger: logger}, nil
}

func (c *L2) path(id serverless.FunctionID) string {
	return filepath.Join(c.dir, id.String()+".wasm.bin")
}

// Get returns the cached artifact for id if present on disk and at least
// as fresh as wantDeployedAt, using the file's modification time as the
// freshness signal.
func (c *L2) Get(id serverless.FunctionID, wantDeployedAt serverless.DeploymentTimestamp) (serverless.Artifact, bool) {
	path := c.path(id)

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && c.logger != nil {
			c.logger.Warn("L2 stat failed", zap.String("function_id", id.String()), zap.Error(err))
		}
		return serverless.Artifact{}, false
	}

	if serverless.DeploymentTimestamp(info.ModTime().Unix()) < wantDeployedAt {
		return serverless.Artifact{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("L2 read failed", zap.String("function_id", id.String()), zap.Error(err))
		}
		return serverless.Artifact{}, false
	}

	return serverless.Artifact{
		Bytes:       data,
		Precompiled: true,
		DeployedAt:  serverless.DeploymentTimestamp(info.ModTime().Unix()),
		FetchedAt:   time.Now(),
	}, true
}

// Put writes an artifact's bytes to disk, keyed by id, and sets the file's
// mtime to the artifact's DeployedAt. Called by the fetcher after every
// successful origin fetch, whether or not precompilation succeeded.
func (c *L2) Put(id serverless.FunctionID, artifact serverless.Artifact) error {
	path := c.path(id)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, artifact.Bytes, 0o644); err != nil {
		return fmt.Errorf("writing L2 cache entry %q: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalizing L2 cache entry %q: %w", path, err)
	}

	deployedAt := time.Unix(int64(artifact.DeployedAt), 0)
	if err := os.Chtimes(path, deployedAt, deployedAt); err != nil && c.logger != nil {
		c.logger.Warn("failed to set L2 cache entry mtime", zap.String("function_id", id.String()), zap.Error(err))
	}

	return nil
}
