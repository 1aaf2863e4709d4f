package logsink

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNullSinkNeverErrors(t *testing.T) {
	var sink NullSink

	if err := sink.Send(context.Background(), uuid.New(), "hello"); err != nil {
		t.Fatalf("expected NullSink.Send to never fail, got: %v", err)
	}
}

func TestNullSinkSatisfiesSinkInterface(t *testing.T) {
	var _ Sink = NullSink{}
}
