package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"

	"github.com/fisirc/nur-worker/pkg/serverless"
	"github.com/fisirc/nur-worker/pkg/serverless/cache"
)

// minimalWasm is the smallest valid WebAssembly module: just the magic
// number and version fields, no sections.
var minimalWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type fakeOrigin struct {
	bytes []byte
	err   error
	calls int
}

func (f *fakeOrigin) Fetch(ctx context.Context, id serverless.FunctionID) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bytes, nil
}

func newTestFetcher(t *testing.T, origin *fakeOrigin) (*Fetcher, wazero.Runtime) {
	t.Helper()
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	t.Cleanup(func() { runtime.Close(ctx) })

	l1 := cache.NewL1(0, nil)
	l2, err := cache.NewL2(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewL2: %v", err)
	}

	return &Fetcher{l1: l1, l2: l2, origin: origin, runtime: runtime}, runtime
}

func TestFetchRoundTripGoesToOriginThenCaches(t *testing.T) {
	origin := &fakeOrigin{bytes: minimalWasm}
	f, _ := newTestFetcher(t, origin)
	id := uuid.New()

	artifact, err := f.Fetch(context.Background(), id, 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !artifact.Precompiled {
		t.Fatalf("expected origin-fetched artifact to be precompiled")
	}
	if origin.calls != 1 {
		t.Fatalf("expected exactly one origin call, got %d", origin.calls)
	}

	// Second fetch for the same id/timestamp should be served from L1,
	// not hit the origin again.
	if _, err := f.Fetch(context.Background(), id, 1); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if origin.calls != 1 {
		t.Fatalf("expected L1 hit to avoid a second origin call, got %d calls", origin.calls)
	}
}

func TestFetchL2HitAvoidsOrigin(t *testing.T) {
	origin := &fakeOrigin{bytes: minimalWasm}
	f, _ := newTestFetcher(t, origin)
	id := uuid.New()

	if _, err := f.Fetch(context.Background(), id, 1); err != nil {
		t.Fatalf("priming Fetch: %v", err)
	}
	if origin.calls != 1 {
		t.Fatalf("expected one origin call while priming, got %d", origin.calls)
	}

	// Drop the L1 entry to force a fall-through to L2.
	f.l1.Delete(id)

	if _, err := f.Fetch(context.Background(), id, 1); err != nil {
		t.Fatalf("Fetch after L1 eviction: %v", err)
	}
	if origin.calls != 1 {
		t.Fatalf("expected L2 hit to avoid a second origin call, got %d calls", origin.calls)
	}
}

func TestFetchStaleL1ForcesOriginRefetch(t *testing.T) {
	origin := &fakeOrigin{bytes: minimalWasm}
	f, _ := newTestFetcher(t, origin)
	id := uuid.New()

	if _, err := f.Fetch(context.Background(), id, 1); err != nil {
		t.Fatalf("priming Fetch: %v", err)
	}

	if _, err := f.Fetch(context.Background(), id, 2); err != nil {
		t.Fatalf("Fetch with newer deployment timestamp: %v", err)
	}
	if origin.calls != 2 {
		t.Fatalf("expected newer deployment timestamp to force a refetch, got %d calls", origin.calls)
	}
}

func TestFetchPrecompileFailureStillCachesRawBytes(t *testing.T) {
	origin := &fakeOrigin{bytes: []byte("not valid wasm")}
	f, _ := newTestFetcher(t, origin)
	id := uuid.New()

	artifact, err := f.Fetch(context.Background(), id, 1)
	if err != nil {
		t.Fatalf("expected Fetch to succeed even when precompilation fails, got: %v", err)
	}
	if artifact.Precompiled {
		t.Fatalf("expected Precompiled=false when the module fails to compile")
	}
	if string(artifact.Bytes) != "not valid wasm" {
		t.Fatalf("expected raw bytes to be preserved despite precompile failure")
	}

	cached, ok := f.l2.Get(id, 1)
	if !ok {
		t.Fatalf("expected raw bytes to be written to L2 despite precompile failure")
	}
	if string(cached.Bytes) != "not valid wasm" {
		t.Fatalf("unexpected L2 bytes: %q", cached.Bytes)
	}
}

func TestFetchOriginErrorWraps(t *testing.T) {
	origin := &fakeOrigin{err: errors.New("boom")}
	f, _ := newTestFetcher(t, origin)

	_, err := f.Fetch(context.Background(), uuid.New(), 1)
	if err == nil {
		t.Fatalf("expected error from failing origin")
	}
	var fetchErr *serverless.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *serverless.FetchError, got %T", err)
	}
	if fetchErr.Tier != "origin" {
		t.Fatalf("expected origin tier, got %q", fetchErr.Tier)
	}
}
