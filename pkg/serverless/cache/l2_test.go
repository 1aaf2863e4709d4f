package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fisirc/nur-worker/pkg/serverless"
)

func TestL2GetMiss(t *testing.T) {
	c, err := NewL2(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewL2: %v", err)
	}

	_, ok := c.Get(uuid.New(), 0)
	if ok {
		t.Fatalf("expected miss on empty directory")
	}
}

func TestL2PutThenGet(t *testing.T) {
	c, err := NewL2(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewL2: %v", err)
	}
	id := uuid.New()

	now := serverless.DeploymentTimestamp(time.Now().Unix())
	if err := c.Put(id, serverless.Artifact{Bytes: []byte("compiled"), DeployedAt: now}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(id, now)
	if !ok {
		t.Fatalf("expected hit after Put")
	}
	if !got.Precompiled {
		t.Fatalf("expected L2 hits to always report Precompiled=true")
	}
	if string(got.Bytes) != "compiled" {
		t.Fatalf("unexpected bytes: %q", got.Bytes)
	}
}

func TestL2StaleEntryIsMiss(t *testing.T) {
	c, err := NewL2(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewL2: %v", err)
	}
	id := uuid.New()

	past := serverless.DeploymentTimestamp(time.Now().Add(-time.Hour).Unix())
	if err := c.Put(id, serverless.Artifact{Bytes: []byte("old"), DeployedAt: past}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	future := serverless.DeploymentTimestamp(time.Now().Add(time.Hour).Unix())
	if _, ok := c.Get(id, future); ok {
		t.Fatalf("expected miss when on-disk artifact predates requested deployment")
	}
}
