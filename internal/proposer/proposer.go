// Package proposer implements create_shard and seal_shard (§4.3):
// assembling a CREATE/SEAL proposal, framing it through the codec, and
// submitting it to the PG's replication device, returning a future the
// committer resolves on local commit. Grounded on the teacher's
// transport.Stream Send/SQ-SCQ pattern: submit, then let an asynchronous
// completion callback resolve the caller's handle.
package proposer

import (
	"context"
	"fmt"

	"github.com/nodestore/shardmgr/internal/codec"
	"github.com/nodestore/shardmgr/internal/committer"
	"github.com/nodestore/shardmgr/internal/cos"
	"github.com/nodestore/shardmgr/internal/directory"
	"github.com/nodestore/shardmgr/internal/future"
	"github.com/nodestore/shardmgr/internal/idalloc"
	"github.com/nodestore/shardmgr/internal/mono"
	"github.com/nodestore/shardmgr/internal/shard"
	"github.com/nodestore/shardmgr/internal/stats"
)

// Proposer is the public entry point for CREATE/SEAL (§6 "Public API").
type Proposer struct {
	dir    *directory.Directory
	alloc  *idalloc.Allocator
	commit *committer.Committer
	stats  *stats.Stats
}

func New(dir *directory.Directory, alloc *idalloc.Allocator, commit *committer.Committer) *Proposer {
	return &Proposer{dir: dir, alloc: alloc, commit: commit}
}

// SetStats attaches a metrics bundle; proposals submitted before this call
// are not counted.
func (p *Proposer) SetStats(s *stats.Stats) {
	p.stats = s
}

// resolvePG implements §4.3 step (1): on miss, UNKNOWN_PG; if the PG
// exists but has no replication handle, PG_NOT_READY.
func (p *Proposer) resolvePG(pgID uint64) (*directory.PgEntry, error) {
	pg := p.dir.GetPG(pgID)
	if pg == nil {
		return nil, cos.WrapUnknownPG(pgID)
	}
	if pg.Device == nil {
		return nil, cos.WrapPGNotReady(pgID)
	}
	return pg, nil
}

// CreateShard implements create_shard(pg_id, size_bytes) (§4.3, §6).
func (p *Proposer) CreateShard(ctx context.Context, pgID uint64, sizeBytes int64) (*future.Future, error) {
	pg, err := p.resolvePG(pgID)
	if err != nil {
		return nil, err
	}
	if sizeBytes <= 0 || sizeBytes > shard.MaxShardSizeBytes {
		return nil, fmt.Errorf("proposer: invalid shard size %d (max %d)", sizeBytes, shard.MaxShardSizeBytes)
	}

	shardID := p.alloc.Allocate(pgID)
	now := mono.MicroTime()
	info := &shard.Info{
		ID:                     shardID,
		PlacementGroup:         pgID,
		State:                  shard.Open,
		CreatedTime:            now,
		LastModifiedTime:       now,
		TotalCapacityBytes:     sizeBytes,
		AvailableCapacityBytes: sizeBytes,
		DeletedCapacityBytes:   0,
	}
	return p.submit(ctx, pg, codec.CreateShard, info)
}

// SealShard implements seal_shard(ShardInfo) (§4.3, §6). The supplied
// ShardInfo is copied and its state set to SEALED; per §9's resolved open
// question, last_modified_time is carried through unchanged from the
// caller's copy — neither the proposer nor the committer re-stamp it (see
// DESIGN.md).
func (p *Proposer) SealShard(ctx context.Context, info shard.Info) (*future.Future, error) {
	pg, err := p.resolvePG(info.PlacementGroup)
	if err != nil {
		return nil, err
	}
	sealed := info
	sealed.State = shard.Sealed
	return p.submit(ctx, pg, codec.SealShard, &sealed)
}

func (p *Proposer) submit(ctx context.Context, pg *directory.PgEntry, msgType codec.MsgType, info *shard.Info) (*future.Future, error) {
	dev := pg.Device
	payload, h, err := codec.EncodePayload(info, msgType, dev.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("proposer: encode shard %d: %w", info.ID, err)
	}
	h.Seal()

	f := future.New()
	// register before submitting: a fake/local device may invoke the
	// commit callback synchronously from within AsyncAllocWrite, and the
	// future must already be discoverable by shard ID when that happens.
	p.commit.TrackFuture(info.ID, f)

	if _, err := dev.AsyncAllocWrite(ctx, h.Marshal(), payload, nil); err != nil {
		return nil, fmt.Errorf("proposer: submit shard %d: %w", info.ID, err)
	}
	if p.stats != nil {
		p.stats.ProposalsSubmitted.WithLabelValues(msgType.String()).Inc()
	}
	return f, nil
}
