// Package handshake implements the 25-byte gateway handshake: version
// byte, 16-byte big-endian function UUID, 8-byte big-endian deployment
// timestamp, followed by a 1-byte status reply.
package handshake

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

const (
	statusOK         byte = 0x00
	statusMalformed  byte = 0x01
	statusNotFound   byte = 0x02
	supportedVersion byte = 1
)

// Fetcher is the subset of fetcher.Fetcher's behavior the handshake
// depends on.
type Fetcher interface {
	Fetch(ctx context.Context, id serverless.FunctionID, deployedAt serverless.DeploymentTimestamp) (serverless.Artifact, error)
}

// Result is what a successful handshake hands off to the execution loop.
type Result struct {
	FunctionID serverless.FunctionID
	Artifact   serverless.Artifact
}

// Handle reads the handshake header from conn, resolves the requested
// function via fetcher, and writes the matching status byte. It returns
// the resolved artifact on success, or an error if the handshake was
// malformed or the function could not be resolved; in both failure cases
// the appropriate status byte has already been written.
func Handle(ctx context.Context, conn io.ReadWriter, fetcher Fetcher, logger *zap.Logger) (Result, error) {
	version := make([]byte, 1)
	if _, err := io.ReadFull(conn, version); err != nil {
		writeStatus(conn, statusMalformed, logger)
		return Result{}, &serverless.HandshakeError{Stage: "version", Cause: err}
	}

	if version[0] != supportedVersion {
		writeStatus(conn, statusMalformed, logger)
		return Result{}, &serverless.HandshakeError{
			Stage: "version",
			Cause: fmt.Errorf("%w: got %d, want %d", serverless.ErrUnsupportedVersion, version[0], supportedVersion),
		}
	}

	idBytes := make([]byte, 16)
	if _, err := io.ReadFull(conn, idBytes); err != nil {
		writeStatus(conn, statusMalformed, logger)
		return Result{}, &serverless.HandshakeError{Stage: "function_id", Cause: err}
	}
	functionID, err := uuid.FromBytes(idBytes)
	if err != nil {
		writeStatus(conn, statusMalformed, logger)
		return Result{}, &serverless.HandshakeError{Stage: "function_id", Cause: err}
	}

	tsBytes := make([]byte, 8)
	if _, err := io.ReadFull(conn, tsBytes); err != nil {
		writeStatus(conn, statusMalformed, logger)
		return Result{}, &serverless.HandshakeError{Stage: "last_deployment", Cause: err}
	}
	deployedAt := serverless.DeploymentTimestamp(binary.BigEndian.Uint64(tsBytes))

	if logger != nil {
		logger.Debug("handshake header parsed",
			zap.String("function_id", functionID.String()),
			zap.Uint64("deployed_at", uint64(deployedAt)),
		)
	}

	artifact, err := fetcher.Fetch(ctx, functionID, deployedAt)
	if err != nil {
		writeStatus(conn, statusNotFound, logger)
		return Result{}, &serverless.HandshakeError{
			Stage: "fetch",
			Cause: fmt.Errorf("%w: %v", serverless.ErrFunctionNotFound, err),
		}
	}

	if _, err := conn.Write([]byte{statusOK}); err != nil {
		return Result{}, &serverless.HandshakeError{Stage: "reply", Cause: err}
	}

	return Result{FunctionID: functionID, Artifact: artifact}, nil
}

func writeStatus(w io.Writer, status byte, logger *zap.Logger) {
	if _, err := w.Write([]byte{status}); err != nil && logger != nil {
		logger.Warn("failed to write handshake status byte", zap.Error(err))
	}
}
