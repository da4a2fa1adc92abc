// Package idalloc implements the leader-side ID Allocator (§4.1): new
// shard IDs are composed from a PG ID and a monotonically pre-incremented
// per-PG sequence, guarded by the directory's PG lock. Followers never
// call this — they adopt the ID carried in the replicated payload and
// advance their own sequence on commit (directory.InsertShard, or
// directory.BumpShardSeq when the shard is already present).
package idalloc

import (
	"github.com/nodestore/shardmgr/internal/cos"
	"github.com/nodestore/shardmgr/internal/directory"
	"github.com/nodestore/shardmgr/internal/shard"
)

// Allocator allocates shard IDs on the proposing (leader) replica.
type Allocator struct {
	dir *directory.Directory
}

func New(dir *directory.Directory) *Allocator {
	return &Allocator{dir: dir}
}

// Allocate composes a new shard ID for pgID. The caller (Proposer) has
// already resolved pgID to a PG entry before calling this (§4.3 step 1),
// so a missing PG here is a broken invariant, not a recoverable error
// (§4.1 "asserts the PG exists"). Allocate also fails hard if the PG is
// exhausted (new sequence would equal 1<<W, §4.1): that too reflects a
// broken invariant upstream, not something a caller can fix by retrying.
func (a *Allocator) Allocate(pgID uint64) (shardID uint64) {
	seq, ok := a.dir.PreIncrementSeq(pgID)
	if !ok {
		cos.ExitLogf("idalloc: allocate called for unknown pg %d", pgID)
	}
	if seq == shard.MaxPerPG() {
		cos.ExitLogf("idalloc: pg %d exhausted its %d-shard sequence space", pgID, shard.MaxPerPG())
	}
	return shard.ComposeID(pgID, seq)
}
