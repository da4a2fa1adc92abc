// Package shardmgr wires the ID Allocator, Codec, Proposer, Committer,
// and Directory into the public API described in §6: create_shard,
// seal_shard, get_shard_chunk, get_any_chunk_id, plus the max_shard_size
// and max_shard_num_in_pg constants. This is the one package most callers
// outside this module should import.
package shardmgr

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nodestore/shardmgr/internal/committer"
	"github.com/nodestore/shardmgr/internal/directory"
	"github.com/nodestore/shardmgr/internal/extern"
	"github.com/nodestore/shardmgr/internal/future"
	"github.com/nodestore/shardmgr/internal/idalloc"
	"github.com/nodestore/shardmgr/internal/proposer"
	"github.com/nodestore/shardmgr/internal/shard"
	"github.com/nodestore/shardmgr/internal/stats"
)

// ShardInfo is the public alias for the logical shard record (§3).
type ShardInfo = shard.Info

// State aliases the public OPEN/SEALED lifecycle (§3).
type State = shard.State

const (
	Open   = shard.Open
	Sealed = shard.Sealed
)

// Manager is one replica's shard manager: one Directory, one Committer,
// and one Proposer (the Proposer only does useful work on the leader
// replica for any given PG — followers still run the Committer for every
// commit their replication device delivers).
type Manager struct {
	dir      *directory.Directory
	alloc    *idalloc.Allocator
	commit   *committer.Committer
	prop     *proposer.Proposer
	selector extern.ChunkSelector
	store    extern.SuperblockStore
}

// New constructs a Manager bound to the given chunk selector and
// superblock store (§6 consumed interfaces). blockSize is the
// replication device's block size used by the committer when rewriting
// superblocks; CREATE proposals use their own PG's device.BlockSize()
// when framing (§4.2).
func New(selector extern.ChunkSelector, store extern.SuperblockStore, blockSize int) *Manager {
	dir := directory.New()
	alloc := idalloc.New(dir)
	commit := committer.New(dir, selector, store, blockSize)
	prop := proposer.New(dir, alloc, commit)
	return &Manager{dir: dir, alloc: alloc, commit: commit, prop: prop, selector: selector, store: store}
}

// EnableStats registers this manager's metrics with reg (§7 observability).
// Optional: a Manager with no stats attached behaves identically, just
// unobserved.
func (m *Manager) EnableStats(reg prometheus.Registerer) *stats.Stats {
	s := stats.New(reg)
	m.commit.SetStats(s)
	m.prop.SetStats(s)
	return s
}

// AddPG registers a PG with no replication handle yet (PG_NOT_READY until
// AttachDevice is called) — membership/bootstrap is outside this core's
// scope (§1), exposed here only so callers and tests can set up fixtures.
func (m *Manager) AddPG(pgID uint64) {
	m.dir.AddPG(pgID)
}

// AttachDevice binds pgID's replication device and registers this
// manager's committer as its commit callback (§4.4, §6).
func (m *Manager) AttachDevice(pgID uint64, dev extern.ReplicationDevice) {
	m.dir.AttachDevice(pgID, dev)
	dev.RegisterCommitCB(m.commit.OnCommit)
}

// CreateShard implements create_shard(pg_id, size_bytes) (§6).
func (m *Manager) CreateShard(ctx context.Context, pgID uint64, sizeBytes int64) (*future.Future, error) {
	return m.prop.CreateShard(ctx, pgID, sizeBytes)
}

// SealShard implements seal_shard(ShardInfo) (§6).
func (m *Manager) SealShard(ctx context.Context, info ShardInfo) (*future.Future, error) {
	return m.prop.SealShard(ctx, info)
}

// GetShardChunk implements get_shard_chunk(shard_id) (§6).
func (m *Manager) GetShardChunk(shardID uint64) (chunkID uint64, ok bool) {
	return m.dir.GetShardChunk(shardID)
}

// GetAnyChunkID implements get_any_chunk_id(pg_id) (§6).
func (m *Manager) GetAnyChunkID(pgID uint64) (chunkID uint64, ok bool) {
	return m.dir.GetAnyChunkID(pgID)
}

// Shards returns a snapshot of a PG's shard set in commit order, used by
// the inspection command and by tests asserting directory convergence
// across replicas (S3, S4, S6).
func (m *Manager) Shards(pgID uint64) []directory.ShardEntry {
	return m.dir.Shards(pgID)
}

// ShardSeq returns a PG's current shard_sequence_num (§3, §8 property 2).
func (m *Manager) ShardSeq(pgID uint64) uint64 {
	return m.dir.ShardSeq(pgID)
}

// ReplayFrom replays every entry already committed on dev through this
// manager's committer, without payload in hand, simulating the restart
// path (§4.4, §8 scenarios S3/S4/S6). Call AttachDevice first so future
// live commits are also observed; ReplayFrom only drives the backlog.
func (m *Manager) ReplayFrom(dev interface{ ReplayAll(extern.CommitCallback) }) {
	dev.ReplayAll(m.commit.OnCommit)
}

// ReplayAllPGs fans ReplayFrom out across every device in devs concurrently
// (one goroutine per PG, via errgroup), then waits for every replay
// continuation across all of them to finish. Intended for bootstrap, when
// a replica comes back up owning many PGs and wants to catch up on all of
// them without serializing one PG's replay behind another's (§5 "commits
// for different PGs may run concurrently").
func (m *Manager) ReplayAllPGs(devs map[uint64]interface{ ReplayAll(extern.CommitCallback) }) error {
	var g errgroup.Group
	for pgID, dev := range devs {
		pgID, dev := pgID, dev
		g.Go(func() error {
			if m.dir.GetPG(pgID) == nil {
				return fmt.Errorf("shardmgr: replay: pg %d not registered, call AddPG first", pgID)
			}
			dev.ReplayAll(m.commit.OnCommit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.commit.Drain()
	return nil
}

// MaxShardSizeBytes is max_shard_size() (§6): 1 GiB.
func MaxShardSizeBytes() int64 { return shard.MaxShardSizeBytes }

// MaxShardNumInPG is max_shard_num_in_pg() (§6): 1<<W.
func MaxShardNumInPG() uint64 { return shard.MaxPerPG() }

// SetShardWidth configures W (§3), the number of low bits of a shard ID
// reserved for the per-PG sequence. Must be called before any PG is
// created; it is a process-wide, replica-shared constant (§3 "a fixed
// width shared by all replicas").
func SetShardWidth(w uint) { shard.Width = w }
