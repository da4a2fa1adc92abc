// Package future implements the single-resolution completion handle the
// Proposer returns to callers (§4.3, §5). It mirrors the teacher's
// transport stream completion pattern (a work channel paired with a
// completion channel, resolved exactly once via a callback) rather than a
// bare channel, so Cancel can mark a future discarded without racing a
// concurrent resolve.
package future

import (
	"context"
	"sync"

	"github.com/nodestore/shardmgr/internal/shard"
)

// Future resolves exactly once, either with a committed ShardInfo or with
// a CRC_MISMATCH error (§7). UNKNOWN_PG and PG_NOT_READY never reach a
// Future: the Proposer returns them directly, with no Future.
type Future struct {
	once      sync.Once
	done      chan struct{}
	mu        sync.Mutex
	result    *shard.Info
	err       error
	cancelled bool
}

func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve completes the future. Only the first call has any effect; later
// calls (e.g. a duplicate commit notification) are no-ops, matching the
// idempotent-commit property (§8 property 3).
func (f *Future) Resolve(info *shard.Info, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.result, f.err = info, err
		f.mu.Unlock()
		close(f.done)
	})
}

// Cancel marks the future as discarded from the caller's point of view;
// it only sets the flag Cancelled reports. It does not retract a proposal
// already submitted (§5 "Cancellation and timeouts") and does not wake or
// change Wait: a later Resolve still stores its result, and a Wait after
// that returns it.
func (f *Future) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Wait blocks until Resolve is called or ctx is done.
func (f *Future) Wait(ctx context.Context) (*shard.Info, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
