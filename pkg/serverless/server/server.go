// Package server implements the worker's C5 component: a TCP accept loop
// that performs the handshake and spawns one execution task per
// connection, with no connection limit.
package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless/execution"
	"github.com/fisirc/nur-worker/pkg/serverless/fetcher"
	"github.com/fisirc/nur-worker/pkg/serverless/handshake"
)

// Server binds a TCP listener and drives the handshake -> instantiate ->
// run pipeline for every accepted connection.
type Server struct {
	listener   net.Listener
	fetcher    *fetcher.Fetcher
	runtime    *execution.Runtime
	logSink    execution.LogSink
	bufferSize int
	logger     *zap.Logger
}

// New binds addr and returns a Server ready to accept connections.
func New(addr string, f *fetcher.Fetcher, runtime *execution.Runtime, logSink execution.LogSink, bufferSize int, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", addr, err)
	}

	return &Server{
		listener:   listener,
		fetcher:    f,
		runtime:    runtime,
		logSink:    logSink,
		bufferSize: bufferSize,
		logger:     logger,
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// ListenAndServe accepts connections forever, spawning a goroutine per
// connection, until the listener is closed or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	result, err := handshake.Handle(ctx, conn, s.fetcher, s.logger)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("handshake failed", zap.String("remote_addr", conn.RemoteAddr().String()), zap.Error(err))
		}
		return
	}

	instance, err := s.runtime.Instantiate(ctx, result.FunctionID, result.Artifact)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("instantiation failed",
				zap.String("function_id", result.FunctionID.String()), zap.Error(err))
		}
		return
	}
	defer instance.Close(ctx)

	if err := instance.Run(ctx, conn, s.logSink, s.bufferSize); err != nil && s.logger != nil {
		s.logger.Debug("connection ended",
			zap.String("function_id", result.FunctionID.String()), zap.Error(err))
	}
}
