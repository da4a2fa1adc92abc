// Package extern declares the Go interfaces for every collaborator this
// core consumes but does not implement (§6): the per-PG replication
// device, the chunk selector, and the superblock store. The core's
// business logic (proposer, committer, directory) depends only on these
// interfaces, mirroring the teacher's practice of hiding real collaborators
// (mountpaths, HRW, stats) behind small interfaces that cluster/mock fakes
// for tests.
package extern

import (
	"context"
	"errors"
)

// ErrExists is returned by SuperblockStore.Create when the named blob
// already exists.
var ErrExists = errors.New("extern: blob already exists")

// BlockIDs identifies where a committed entry's payload lives on the
// replication device's own storage, and which chunk the device picked for
// it. Only Committer restart-replay (§4.4) and CREATE's chunk bind (§4.4
// "Apply — CREATE_SHARD") read from this.
type BlockIDs interface {
	// ChunkNum is the chunk_id bound to this CREATE (§4.4: "chunk_id =
	// blk_ids.chunk_num()").
	ChunkNum() uint64
}

// CommitCallback is invoked by the ReplicationDevice for every committed
// log entry, on every replica, both in steady state and during restart
// replay (§4.4's on_commit signature). header and payload are the raw
// bytes the Proposer submitted; payload is nil during restart replay when
// the device has not kept the value in memory, signaling the committer to
// fetch it via AsyncRead using blkIDs. ctx is the opaque propCtx value
// that was passed to AsyncAllocWrite on the submitting replica, nil on
// other replicas; the Proposer passes nil, and the Committer finds the
// leader's future by shard ID instead (§4.4 "Proposer notification").
type CommitCallback func(lsn uint64, header, payload []byte, blkIDs BlockIDs, dev ReplicationDevice, ctx any)

// ReplicationDevice is the per-PG replication handle the Proposer submits
// proposals to (§6). Real implementations order and quorum-replicate
// entries across peer nodes; this core never implements that — it only
// consumes the four operations below.
type ReplicationDevice interface {
	// BlockSize is the device's required payload alignment (§4.2 framing
	// rule).
	BlockSize() int

	// AsyncAllocWrite submits a framed operation: header is the
	// out-of-band "key" blob, value is the padded payload. propCtx is
	// delivered back unchanged to the commit callback on this replica
	// only (the leader) so the proposer can resolve its future.
	AsyncAllocWrite(ctx context.Context, header, value []byte, propCtx any) (Future, error)

	// AsyncRead fetches a previously-written payload by block IDs; used
	// only during restart replay when the commit callback arrives
	// without payload in hand (§4.4 "Payload fetch").
	AsyncRead(ctx context.Context, blkIDs BlockIDs, size int) (Future, error)

	// RegisterCommitCB installs the callback the device invokes for
	// every committed entry on this PG, in commit order.
	RegisterCommitCB(cb CommitCallback)
}

// Future is the minimal handle the replication device hands back for an
// async operation; the core only ever waits on it internally (e.g. the
// committer's own AsyncRead during replay) — it is never exposed to the
// shard manager's own callers, who get internal/future.Future instead.
type Future interface {
	// Wait blocks until the operation completes and returns its result
	// bytes (for AsyncRead) or nil (for AsyncAllocWrite) and any error.
	Wait(ctx context.Context) ([]byte, error)
}

// ChunkSelector is the process-wide block allocator collaborator (§6).
// Both calls are idempotent on repeated CREATE/SEAL replay (§5 "Shared
// resources").
type ChunkSelector interface {
	// SelectSpecificChunk marks chunkNum busy. A no-op in steady state
	// (the chunk was marked busy at proposal time); during replay it
	// rebuilds the selector's busy set (§4.4).
	SelectSpecificChunk(chunkNum uint64)

	// ReleaseChunk returns chunkNum to the pool on SEAL (§4.4 "Apply —
	// SEAL_SHARD").
	ReleaseChunk(chunkNum uint64)
}

// SuperblockStore is the named-blob key/value store the committer
// durably materialises shard metadata into (§6). One blob per shard, key
// family "shard".
type SuperblockStore interface {
	// Create atomically reserves size bytes for a new blob in family
	// "shard" keyed by shardID. Returns ErrExists if already present.
	Create(family string, shardID uint64, size int) error

	// Write durably overwrites the blob's contents. The committer
	// considers an apply complete only once Write returns nil (§5
	// "Superblock writes are synchronous").
	Write(family string, shardID uint64, data []byte) error

	// LoadAll enumerates every blob in family on startup, keyed by
	// shardID, for use during recovery before replay begins.
	LoadAll(family string) (map[uint64][]byte, error)
}
