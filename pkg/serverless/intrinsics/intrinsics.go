// Package intrinsics implements the three host functions a guest module
// imports under the "nur" namespace: nur_log, nur_send, and nur_end.
// nur_log and nur_send copy a range of guest memory into an
// IntrinsicMessage, nur_end emits an Abort message, and each forwards its
// message to the execution loop's writer task over a channel.
package intrinsics

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

// Bridge holds the per-connection state the three intrinsics share: the
// outbound message channel and the done signal that unblocks it. The
// guest's memory is not stored here; each call reads it from the
// api.Module wazero passes in. One Bridge is created per connection,
// mirroring the original Rust worker's NurFunctionEnv.
type Bridge struct {
	messages chan<- serverless.IntrinsicMessage
	done     <-chan struct{}
	logger   *zap.Logger
}

// NewBridge returns a Bridge that forwards intrinsic calls onto messages.
// done should be closed when the connection's writer task exits, so a
// guest that keeps calling intrinsics after the consumer is gone doesn't
// block forever.
func NewBridge(messages chan<- serverless.IntrinsicMessage, done <-chan struct{}, logger *zap.Logger) *Bridge {
	return &Bridge{messages: messages, done: done, logger: logger}
}

// Log implements nur_log(ptr, len): copies len bytes of guest memory
// starting at ptr and forwards them as a log line. An out-of-bounds
// range is a guest programming error, not a transient condition: it
// panics, which wazero surfaces as a trap through the enclosing guest
// call so the connection is torn down rather than left running against
// a guest that just proved it can't be trusted to hand back valid
// pointers.
func (b *Bridge) Log(ctx context.Context, mod api.Module, ptr, length uint32) {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(fmt.Sprintf("nur_log: out-of-bounds memory range (ptr=%d len=%d)", ptr, length))
	}

	b.send(serverless.IntrinsicMessage{Kind: serverless.IntrinsicLog, Text: string(data)})
}

// Send implements nur_send(ptr, len): copies len bytes of guest memory
// starting at ptr and forwards them as a chunk of response data. An
// out-of-bounds range panics for the same reason as Log.
func (b *Bridge) Send(ctx context.Context, mod api.Module, ptr, length uint32) {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(fmt.Sprintf("nur_send: out-of-bounds memory range (ptr=%d len=%d)", ptr, length))
	}

	// Copy the slice: mod.Memory().Read returns a view into guest
	// linear memory, which the guest is free to reuse or overwrite
	// before the writer task drains the channel.
	owned := make([]byte, len(data))
	copy(owned, data)

	b.send(serverless.IntrinsicMessage{Kind: serverless.IntrinsicSend, Data: owned})
}

// End implements nur_end(): signals that the guest has finished handling
// the connection.
func (b *Bridge) End(ctx context.Context, mod api.Module) {
	b.send(serverless.IntrinsicMessage{Kind: serverless.IntrinsicAbort})
}

// send forwards msg on the channel, logging and dropping it if the
// writer task has already exited rather than blocking forever or
// panicking on a closed channel.
func (b *Bridge) send(msg serverless.IntrinsicMessage) {
	select {
	case b.messages <- msg:
	case <-b.done:
		if b.logger != nil {
			b.logger.Warn("intrinsic message dropped: writer task gone", zap.Int("kind", int(msg.Kind)))
		}
	}
}
