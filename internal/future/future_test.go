package future

import (
	"context"
	"testing"
	"time"

	"github.com/nodestore/shardmgr/internal/shard"
)

func TestResolveThenWaitReturnsResult(t *testing.T) {
	f := New()
	info := &shard.Info{ID: 42}
	f.Resolve(info, nil)

	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 42 {
		t.Fatalf("ID = %d, want 42", got.ID)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := New()
	f.Resolve(&shard.Info{ID: 1}, nil)
	f.Resolve(&shard.Info{ID: 2}, nil) // must be a no-op

	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 1 {
		t.Fatalf("ID = %d, want 1 (first Resolve wins)", got.ID)
	}
}

func TestWaitReturnsContextError(t *testing.T) {
	f := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestCancelDoesNotBlockLaterResolve(t *testing.T) {
	f := New()
	f.Cancel()
	if !f.Cancelled() {
		t.Fatal("expected Cancelled() to be true")
	}

	f.Resolve(&shard.Info{ID: 7}, nil)
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 {
		t.Fatalf("ID = %d, want 7: Cancel must not retract a later Resolve", got.ID)
	}
}
