// Command nur-worker runs the serverless function worker: it accepts
// gateway connections, resolves the requested function to a cached
// WebAssembly artifact, and executes it against the connection's byte
// stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/logging"
	"github.com/fisirc/nur-worker/pkg/serverless"
	"github.com/fisirc/nur-worker/pkg/serverless/cache"
	"github.com/fisirc/nur-worker/pkg/serverless/execution"
	"github.com/fisirc/nur-worker/pkg/serverless/fetcher"
	"github.com/fisirc/nur-worker/pkg/serverless/logsink"
	"github.com/fisirc/nur-worker/pkg/serverless/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := logging.NewDefaultLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	cfg := serverless.LoadConfigFromEnv()
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("invalid configuration", zap.Error(e))
		}
		return fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logSink, err := buildLogSink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building log sink: %w", err)
	}

	wasmRuntime, err := execution.NewRuntime(ctx, cfg.CacheDir, logSink, logger)
	if err != nil {
		return fmt.Errorf("building wasm runtime: %w", err)
	}
	defer wasmRuntime.Close(ctx)

	origin, err := fetcher.NewOrigin(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, logger)
	if err != nil {
		return fmt.Errorf("building origin client: %w", err)
	}

	l1 := cache.NewL1(cfg.L1CacheCapacity, logger)
	l2, err := cache.NewL2(cfg.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("building L2 cache: %w", err)
	}
	fn := fetcher.New(l1, l2, origin, wasmRuntime.Wazero(), logger)

	srv, err := server.New(cfg.Addr(), fn, wasmRuntime, logSink, cfg.ReadBufferSize, logger)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	logger.Info("nur-worker listening", zap.String("addr", srv.Addr().String()))

	return srv.ListenAndServe(ctx)
}

// buildLogSink builds the rqlite-backed sink when LOG_SINK_URL is
// configured, falling back to a no-op sink otherwise so the worker can
// run standalone without a database.
func buildLogSink(ctx context.Context, cfg serverless.Config, logger *zap.Logger) (execution.LogSink, error) {
	if cfg.LogSinkURL == "" {
		return logsink.NullSink{}, nil
	}

	sink, err := logsink.NewRQLiteSink(cfg.LogSinkURL, logger)
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensuring log sink schema: %w", err)
	}
	return sink, nil
}
