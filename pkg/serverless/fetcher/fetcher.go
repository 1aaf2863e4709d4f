// Package fetcher implements the worker's three-tier artifact resolution:
// an in-memory L1 cache, an on-disk L2 cache, and an S3-backed origin,
// consulted in that order and populated on the way back out.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
	"github.com/fisirc/nur-worker/pkg/serverless/cache"
)

// originFetcher is the subset of Origin's behavior the Fetcher depends
// on, narrowed to an interface so tests can substitute a fake origin
// without standing up a real S3 endpoint.
type originFetcher interface {
	Fetch(ctx context.Context, id serverless.FunctionID) ([]byte, error)
}

// Fetcher resolves a function UUID and deployment timestamp to a ready
// artifact, checking L1, then L2, then the origin object store, each
// tier populating the ones above it on a miss.
type Fetcher struct {
	l1     *cache.L1
	l2     *cache.L2
	origin originFetcher
	// runtime is shared with the execution loop so that a precompile
	// performed here warms the same wazero compilation cache used later
	// to instantiate the module.
	runtime wazero.Runtime
	logger  *zap.Logger
}

// New builds a Fetcher over the given cache tiers and origin client. The
// runtime must be configured with a persistent wazero.CompilationCache for
// precompilation to have any effect across connections.
func New(l1 *cache.L1, l2 *cache.L2, origin *Origin, runtime wazero.Runtime, logger *zap.Logger) *Fetcher {
	return &Fetcher{l1: l1, l2: l2, origin: origin, runtime: runtime, logger: logger}
}

// Fetch resolves id to an artifact at least as fresh as deployedAt,
// consulting L1, L2, and the origin store in order.
func (f *Fetcher) Fetch(ctx context.Context, id serverless.FunctionID, deployedAt serverless.DeploymentTimestamp) (serverless.Artifact, error) {
	if artifact, ok := f.l1.Get(id, deployedAt); ok {
		if f.logger != nil {
			f.logger.Debug("fetch L1 hit", zap.String("function_id", id.String()))
		}
		return artifact, nil
	}

	if artifact, ok := f.l2.Get(id, deployedAt); ok {
		if f.logger != nil {
			f.logger.Debug("fetch L2 hit", zap.String("function_id", id.String()))
		}
		f.l1.Set(id, artifact)
		return artifact, nil
	}

	if f.logger != nil {
		f.logger.Debug("fetch origin miss in L1/L2, downloading", zap.String("function_id", id.String()))
	}

	raw, err := f.origin.Fetch(ctx, id)
	if err != nil {
		return serverless.Artifact{}, &serverless.FetchError{FunctionID: id.String(), Tier: "origin", Cause: err}
	}

	artifact := serverless.Artifact{
		Bytes:      raw,
		DeployedAt: deployedAt,
		FetchedAt:  time.Now(),
	}

	if err := f.precompile(ctx, &artifact); err != nil && f.logger != nil {
		f.logger.Warn("opportunistic precompilation failed, continuing with raw bytes",
			zap.String("function_id", id.String()), zap.Error(err))
	}

	if err := f.l2.Put(id, artifact); err != nil && f.logger != nil {
		f.logger.Warn("failed to write L2 cache entry", zap.String("function_id", id.String()), zap.Error(err))
	}
	f.l1.Set(id, artifact)

	return artifact, nil
}

// precompile validates the module and warms the shared wazero compilation
// cache, so the execution loop's later Instantiate of the same bytes
// (which compiles them) is a cache hit instead of a cold compile. It
// sets Precompiled but leaves artifact.Bytes as the raw module; apart
// from this path, only an L2 hit reports Precompiled=true.
func (f *Fetcher) precompile(ctx context.Context, artifact *serverless.Artifact) error {
	compiled, err := f.runtime.CompileModule(ctx, artifact.Bytes)
	if err != nil {
		return fmt.Errorf("precompiling module: %w", err)
	}
	defer compiled.Close(ctx)

	artifact.Precompiled = true
	return nil
}
