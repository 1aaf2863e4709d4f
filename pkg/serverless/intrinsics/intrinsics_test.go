package intrinsics

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// memoryOnlyWasm is a hand-assembled minimal WebAssembly module declaring
// a single one-page memory and exporting it as "memory" — enough to
// exercise the intrinsics' memory-copy behavior without a real guest.
var memoryOnlyWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 memory, min 1 page
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export "memory"
}

// instantiateMemoryModule returns the instantiated module itself: it has
// no name, so runtime.Module cannot look it up afterwards.
func instantiateMemoryModule(t *testing.T) (api.Module, func()) {
	t.Helper()
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)

	mod, err := runtime.Instantiate(ctx, memoryOnlyWasm)
	if err != nil {
		t.Fatalf("instantiating memory-only module: %v", err)
	}

	ok := mod.Memory().Write(0, []byte("hello from guest"))
	if !ok {
		t.Fatalf("writing seed data into guest memory")
	}

	return mod, func() { runtime.Close(ctx) }
}

func TestBridgeLogCopiesMemoryRange(t *testing.T) {
	mod, closeFn := instantiateMemoryModule(t)
	defer closeFn()

	messages := make(chan serverless.IntrinsicMessage, 4)
	done := make(chan struct{})
	bridge := NewBridge(messages, done, nil)

	bridge.Log(context.Background(), mod, 0, uint32(len("hello from guest")))

	select {
	case msg := <-messages:
		if msg.Kind != serverless.IntrinsicLog {
			t.Fatalf("expected IntrinsicLog, got %v", msg.Kind)
		}
		if msg.Text != "hello from guest" {
			t.Fatalf("unexpected text: %q", msg.Text)
		}
	default:
		t.Fatalf("expected a message on the channel")
	}
}

func TestBridgeSendCopiesMemoryRange(t *testing.T) {
	mod, closeFn := instantiateMemoryModule(t)
	defer closeFn()

	messages := make(chan serverless.IntrinsicMessage, 4)
	done := make(chan struct{})
	bridge := NewBridge(messages, done, nil)

	bridge.Send(context.Background(), mod, 0, 5)

	msg := <-messages
	if msg.Kind != serverless.IntrinsicSend {
		t.Fatalf("expected IntrinsicSend, got %v", msg.Kind)
	}
	if string(msg.Data) != "hello" {
		t.Fatalf("unexpected data: %q", msg.Data)
	}
}

func TestBridgeEndSendsAbort(t *testing.T) {
	mod, closeFn := instantiateMemoryModule(t)
	defer closeFn()

	messages := make(chan serverless.IntrinsicMessage, 4)
	done := make(chan struct{})
	bridge := NewBridge(messages, done, nil)

	bridge.End(context.Background(), mod)

	msg := <-messages
	if msg.Kind != serverless.IntrinsicAbort {
		t.Fatalf("expected IntrinsicAbort, got %v", msg.Kind)
	}
}

func TestBridgeLogOutOfBoundsReadPanics(t *testing.T) {
	mod, closeFn := instantiateMemoryModule(t)
	defer closeFn()

	messages := make(chan serverless.IntrinsicMessage, 4)
	done := make(chan struct{})
	bridge := NewBridge(messages, done, nil)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Log to panic on an out-of-bounds memory range")
		}
	}()
	bridge.Log(context.Background(), mod, 0xffffffff, 16)
}

func TestBridgeSendOutOfBoundsReadPanics(t *testing.T) {
	mod, closeFn := instantiateMemoryModule(t)
	defer closeFn()

	messages := make(chan serverless.IntrinsicMessage, 4)
	done := make(chan struct{})
	bridge := NewBridge(messages, done, nil)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Send to panic on an out-of-bounds memory range")
		}
	}()
	bridge.Send(context.Background(), mod, 0xffffffff, 16)
}

func TestBridgeSendUnblocksOnDone(t *testing.T) {
	messages := make(chan serverless.IntrinsicMessage) // unbuffered, nobody reads
	done := make(chan struct{})
	bridge := NewBridge(messages, done, nil)

	close(done)

	finished := make(chan struct{})
	go func() {
		bridge.send(serverless.IntrinsicMessage{Kind: serverless.IntrinsicAbort})
		close(finished)
	}()

	<-finished
}
