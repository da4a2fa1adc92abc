// Package superblock materialises shard metadata durably (§3, §6): one
// blob per shard, key family "shard", containing every ShardInfo field
// plus chunk_id. Grounded on the teacher's volume.VMD — a versioned,
// checksummed metadata blob written atomically via a small storage
// interface — but here backed by the generic SuperblockStore interface
// rather than direct mountpath I/O, since persistent superblock I/O is an
// out-of-scope external collaborator (§1, §6).
package superblock

import (
	"fmt"

	"github.com/nodestore/shardmgr/internal/extern"
	"github.com/nodestore/shardmgr/internal/jsp"
	"github.com/nodestore/shardmgr/internal/shard"
)

const Family = "shard"

// Record is the durable shape of a shard superblock: every ShardInfo
// field plus the bound chunk_id.
type Record struct {
	shard.Info
	ChunkID uint64 `json:"chunk_id"`
}

// Write durably creates-or-overwrites a shard's superblock. The committer
// treats an apply as complete only once this returns nil (§5 "Superblock
// writes are synchronous"); a failure here is fatal at this layer (§7).
func Write(store extern.SuperblockStore, rec Record, blockSize int) error {
	data, _, err := jsp.Encode(rec)
	if err != nil {
		return fmt.Errorf("superblock: encode %d: %w", rec.ID, err)
	}
	data = padToBlock(data, blockSize)
	if err := store.Create(Family, rec.ID, len(data)); err != nil && err != extern.ErrExists {
		return fmt.Errorf("superblock: create %d: %w", rec.ID, err)
	}
	if err := store.Write(Family, rec.ID, data); err != nil {
		return fmt.Errorf("superblock: write %d: %w", rec.ID, err)
	}
	return nil
}

// LoadAll enumerates every superblock in the store at startup — the
// source of truth for shards whose CREATE/SEAL was already durable before
// a crash (§3 "The superblock is the source of truth on restart").
func LoadAll(store extern.SuperblockStore) (map[uint64]Record, error) {
	blobs, err := store.LoadAll(Family)
	if err != nil {
		return nil, fmt.Errorf("superblock: load all: %w", err)
	}
	out := make(map[uint64]Record, len(blobs))
	for shardID, data := range blobs {
		var rec Record
		if err := jsp.DecodeUnchecked(data, &rec); err != nil {
			return nil, fmt.Errorf("superblock: decode %d: %w", shardID, err)
		}
		out[shardID] = rec
	}
	return out, nil
}

func padToBlock(b []byte, blockSize int) []byte {
	if blockSize <= 0 {
		return b
	}
	rem := len(b) % blockSize
	if rem == 0 {
		return b
	}
	padded := make([]byte, len(b)+(blockSize-rem))
	copy(padded, b)
	return padded
}
