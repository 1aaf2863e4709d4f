package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// emptyWasm is the smallest valid module: magic + version, no sections at
// all, so it exposes neither memory nor any exported functions.
var emptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// memoryOnlyWasm declares a one-page memory and exports it as "memory",
// but exports no functions — used to exercise the "missing alloc/
// poll_stream export" rejection path.
var memoryOnlyWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	ctx := context.Background()
	runtime, err := NewRuntime(ctx, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })
	return runtime
}

func TestInstantiateRejectsModuleMissingMemory(t *testing.T) {
	runtime := newTestRuntime(t)

	_, err := runtime.Instantiate(context.Background(), uuid.New(), serverless.Artifact{Bytes: emptyWasm})
	if err == nil {
		t.Fatalf("expected error for a module without a memory export")
	}
	if !errors.Is(err, serverless.ErrMissingExport) {
		t.Fatalf("expected ErrMissingExport, got %v", err)
	}
}

func TestInstantiateRejectsModuleMissingRequiredFunctions(t *testing.T) {
	runtime := newTestRuntime(t)

	_, err := runtime.Instantiate(context.Background(), uuid.New(), serverless.Artifact{Bytes: memoryOnlyWasm})
	if err == nil {
		t.Fatalf("expected error for a module missing alloc/poll_stream")
	}
	if !errors.Is(err, serverless.ErrMissingExport) {
		t.Fatalf("expected ErrMissingExport, got %v", err)
	}
}
