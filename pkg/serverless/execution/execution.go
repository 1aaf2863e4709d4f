// Package execution implements the per-connection guest lifecycle: Phase
// A instantiates the resolved artifact and wires up its host imports,
// Phase B runs a reader task (socket -> guest.poll_stream) racing a
// writer task (intrinsic channel -> socket/logs), with the first task to
// finish tearing down the connection.
package execution

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
	"github.com/fisirc/nur-worker/pkg/serverless/intrinsics"
)

// requiredFunctionExports lists the guest exports the worker depends on.
// A module missing any of these is rejected before the connection is
// ever handed any bytes.
var requiredFunctionExports = []string{"alloc", "poll_stream"}

// LogSink receives guest log lines emitted via nur_log. It mirrors the
// logsink.Sink interface without importing that package, to keep
// execution decoupled from the storage backend.
type LogSink interface {
	Send(ctx context.Context, functionID serverless.FunctionID, text string) error
}

// bridgeCtxKey is the context key under which the active connection's
// intrinsics.Bridge is stashed. The "nur" host module is registered once
// per Runtime (wazero requires a single module per import name), so the
// three host functions recover which connection they're serving from the
// context wazero threads through from the guest's exported-function call
// down into the host function invocation.
type bridgeCtxKey struct{}

func withBridge(ctx context.Context, bridge *intrinsics.Bridge) context.Context {
	return context.WithValue(ctx, bridgeCtxKey{}, bridge)
}

func bridgeFromContext(ctx context.Context) *intrinsics.Bridge {
	bridge, _ := ctx.Value(bridgeCtxKey{}).(*intrinsics.Bridge)
	return bridge
}

// Runtime wraps a shared wazero.Runtime configured with a persistent
// compilation cache, so modules precompiled by the fetcher are warm by
// the time a connection instantiates them. The "nur" host import module
// is registered once at construction time.
type Runtime struct {
	wazero  wazero.Runtime
	logger  *zap.Logger
	logSink LogSink
}

// NewRuntime builds a Runtime. cacheDir backs wazero's own on-disk
// compilation cache (distinct from the L2 artifact cache, which stores
// the raw/decompressed bytes fetched from origin).
func NewRuntime(ctx context.Context, cacheDir string, logSink LogSink, logger *zap.Logger) (*Runtime, error) {
	compilationCache, err := wazero.NewCompilationCacheWithDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("creating wazero compilation cache: %w", err)
	}

	config := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(compilationCache)

	wazeroRuntime := wazero.NewRuntimeWithConfig(ctx, config)

	_, err = wazeroRuntime.NewHostModuleBuilder("nur").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			if bridge := bridgeFromContext(ctx); bridge != nil {
				bridge.Log(ctx, mod, ptr, length)
			}
		}).Export("nur_log").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			if bridge := bridgeFromContext(ctx); bridge != nil {
				bridge.Send(ctx, mod, ptr, length)
			}
		}).Export("nur_send").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) {
			if bridge := bridgeFromContext(ctx); bridge != nil {
				bridge.End(ctx, mod)
			}
		}).Export("nur_end").
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("registering nur host module: %w", err)
	}

	return &Runtime{
		wazero:  wazeroRuntime,
		logger:  logger,
		logSink: logSink,
	}, nil
}

// Wazero exposes the underlying wazero.Runtime so the fetcher can share
// its compilation cache when warming precompiled artifacts.
func (r *Runtime) Wazero() wazero.Runtime {
	return r.wazero
}

// Close tears down the shared wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wazero.Close(ctx)
}

// Connection holds Phase A's result: an instantiated guest module ready
// to be driven by Phase B's reader/writer pipeline.
type Connection struct {
	functionID serverless.FunctionID
	module     api.Module
	alloc      api.Function
	pollStream api.Function
	bridge     *intrinsics.Bridge
	messages   chan serverless.IntrinsicMessage
	done       chan struct{}
	logger     *zap.Logger
}

// Instantiate performs Phase A: instantiates the guest against the
// already-registered "nur" host import module and validates that the
// required exports are present. On any failure the guest module, if
// created, is closed before returning.
func (r *Runtime) Instantiate(ctx context.Context, functionID serverless.FunctionID, artifact serverless.Artifact) (*Connection, error) {
	messages := make(chan serverless.IntrinsicMessage, 32)
	done := make(chan struct{})
	bridge := intrinsics.NewBridge(messages, done, r.logger)

	mod, err := r.wazero.Instantiate(withBridge(ctx, bridge), artifact.Bytes)
	if err != nil {
		return nil, &serverless.ExecutionError{FunctionID: functionID.String(), Cause: fmt.Errorf("instantiating guest module: %w", err)}
	}

	if mod.Memory() == nil {
		mod.Close(ctx)
		return nil, &serverless.ExecutionError{
			FunctionID: functionID.String(),
			Cause:      fmt.Errorf("%w: memory", serverless.ErrMissingExport),
		}
	}

	exports := make(map[string]api.Function, len(requiredFunctionExports))
	for _, name := range requiredFunctionExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			mod.Close(ctx)
			return nil, &serverless.ExecutionError{
				FunctionID: functionID.String(),
				Cause:      fmt.Errorf("%w: %s", serverless.ErrMissingExport, name),
			}
		}
		exports[name] = fn
	}

	return &Connection{
		functionID: functionID,
		module:     mod,
		alloc:      exports["alloc"],
		pollStream: exports["poll_stream"],
		bridge:     bridge,
		messages:   messages,
		done:       done,
		logger:     r.logger,
	}, nil
}

// Close releases the guest module's resources.
func (c *Connection) Close(ctx context.Context) error {
	return c.module.Close(ctx)
}

// Run performs Phase B: a reader task feeding socket bytes to the
// guest's poll_stream export races a writer task draining the intrinsic
// channel to the socket and the logs sink. The first task to finish
// determines when the connection ends; the other is cancelled via ctx
// and, since a blocking Read/Write syscall doesn't observe ctx
// cancellation on its own, unblocked by closing conn once the race is
// decided.
func (c *Connection) Run(ctx context.Context, conn net.Conn, logSink LogSink, readBufferSize int) error {
	ctx, cancel := context.WithCancel(withBridge(ctx, c.bridge))
	defer cancel()

	readerErr := make(chan error, 1)
	writerErr := make(chan error, 1)

	go func() {
		readerErr <- c.readLoop(ctx, conn, readBufferSize)
	}()
	go func() {
		writerErr <- c.writeLoop(ctx, conn, logSink)
	}()

	var err error
	select {
	case err = <-readerErr:
	case err = <-writerErr:
	}

	cancel()
	close(c.done)
	conn.Close()
	<-readerErr
	<-writerErr

	return err
}

// readLoop reads chunks off conn and hands each one to the guest via
// alloc -> memory write -> poll_stream, until EOF, a read error, or ctx
// cancellation.
func (c *Connection) readLoop(ctx context.Context, r io.Reader, bufferSize int) error {
	buf := make([]byte, bufferSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			if pollErr := c.feed(ctx, buf[:n]); pollErr != nil {
				return pollErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// feed copies chunk into freshly allocated guest memory and invokes
// poll_stream over it.
func (c *Connection) feed(ctx context.Context, chunk []byte) error {
	results, err := c.alloc.Call(ctx, uint64(len(chunk)))
	if err != nil {
		return &serverless.ExecutionError{FunctionID: c.functionID.String(), Cause: fmt.Errorf("%w: alloc: %v", serverless.ErrGuestTrap, err)}
	}
	ptr := uint32(results[0])

	if ok := c.module.Memory().Write(ptr, chunk); !ok {
		return &serverless.ExecutionError{FunctionID: c.functionID.String(), Cause: fmt.Errorf("writing %d bytes at guest pointer %d out of bounds", len(chunk), ptr)}
	}

	if _, err := c.pollStream.Call(ctx, uint64(ptr), uint64(len(chunk))); err != nil {
		return &serverless.ExecutionError{FunctionID: c.functionID.String(), Cause: fmt.Errorf("%w: poll_stream: %v", serverless.ErrGuestTrap, err)}
	}

	return nil
}

// writeLoop drains the intrinsic message channel, writing Send payloads
// to the socket, forwarding Log payloads to the logs sink on detached
// goroutines, and returning when an Abort message arrives or ctx is
// cancelled. On Abort it shuts down the socket's write half immediately,
// within the same scheduler turn, rather than waiting for Run's shared
// teardown to close the whole connection.
func (c *Connection) writeLoop(ctx context.Context, conn net.Conn, logSink LogSink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.messages:
			switch msg.Kind {
			case serverless.IntrinsicSend:
				if _, err := conn.Write(msg.Data); err != nil {
					return err
				}
			case serverless.IntrinsicLog:
				if logSink != nil {
					go func(text string) {
						if err := logSink.Send(context.Background(), c.functionID, text); err != nil && c.logger != nil {
							c.logger.Warn("log sink send failed", zap.String("function_id", c.functionID.String()), zap.Error(err))
						}
					}(msg.Text)
				}
			case serverless.IntrinsicAbort:
				closeWrite(conn)
				return nil
			}
		}
	}
}

// closeWrite shuts down conn's write half so the peer observes EOF
// without tearing down the read half, which may still have bytes in
// flight. Falls back to nothing on connection types that don't support
// half-close; Run's final conn.Close() still guarantees teardown.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
	}
}
