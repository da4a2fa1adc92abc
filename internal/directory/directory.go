// Package directory implements the concurrent in-memory indices (§4.5):
// PG ID -> PgEntry, shard ID -> shard entry, and the per-PG
// "any allocated chunk" cache. Locking discipline follows the teacher's
// core/lom.go idiom: Directory state guarded by two separate locks
// (PG-level and shard-level), taken together in a fixed order — PG before
// shard — only on the one path that needs both (CREATE commit, §4.4/§4.5).
package directory

import (
	"encoding/binary"
	stderrors "errors"
	"sync"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/sync/singleflight"

	"github.com/nodestore/shardmgr/internal/cos"
	"github.com/nodestore/shardmgr/internal/extern"
	"github.com/nodestore/shardmgr/internal/shard"
)

// errNoChunkYet means the PG exists but has no shards yet, so there is no
// placement hint to recompute — distinct from cos.ErrUnknownPG, which
// means the PG itself was never registered.
var errNoChunkYet = stderrors.New("directory: pg has no shards yet")

// numShardStripes is the number of independent lock/map stripes backing the
// shard-ID index (§4.5, §9 "Replacing global lock on create"). Hashing the
// shard ID spreads unrelated shards' lookups and inserts across disjoint
// locks, the same stripe-by-hash idiom the teacher uses for its fs/mountpath
// tables, grounded on the teacher's xxhash dependency.
const numShardStripes = 16

type shardStripe struct {
	mu sync.RWMutex
	m  map[uint64]shardRef
}

// stripeSeed is the xxhash seed used for stripe selection: the zero seed.
const stripeSeed = 0

func stripeIndex(shardID uint64) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], shardID)
	return int(xxhash.Checksum64S(b[:], stripeSeed) % numShardStripes)
}

// PgEntry is the directory-side PG record (§3). shardSeq is the highest
// sequence ever observed for this PG on this replica; it only ever moves
// forward, and only while pgMu is held for writing (§5 "Ordering
// guarantees").
type PgEntry struct {
	ID       uint64
	Device   extern.ReplicationDevice
	shardSeq uint64
	shards   []*ShardEntry // insertion order = commit order
	shardIDs []uint64      // parallel to shards; append-only, so safe to read under pgMu alone
	anyChunk *uint64       // cached placement hint (§4.5); nil until first CREATE
}

// ShardEntry is the directory-side shard record (§3): the logical Info,
// plus the chunk bound at CREATE time. The PG's shards slice owns it; the
// shard-ID index below holds a non-owning index into that slice.
type ShardEntry struct {
	Info    shard.Info
	ChunkID uint64
}

type shardRef struct {
	pg  *PgEntry // set once under pgMu at insert time, never mutated after
	pos int      // index into PgEntry.shards
}

// Directory is the concurrent map pair described in §4.5: one PG-level map
// under a single RWMutex, and a shard-ID index striped across
// numShardStripes independent locks.
type Directory struct {
	pgMu sync.RWMutex
	pgs  map[uint64]*PgEntry

	stripes [numShardStripes]*shardStripe

	// anyChunkSF collapses concurrent GetAnyChunkID cache-fill misses for
	// the same PG into a single recomputation (§4.5 placement hint), the
	// same pattern the teacher uses x/sync/singleflight for around
	// expensive shared lookups.
	anyChunkSF singleflight.Group
}

func New() *Directory {
	d := &Directory{
		pgs: make(map[uint64]*PgEntry),
	}
	for i := range d.stripes {
		d.stripes[i] = &shardStripe{m: make(map[uint64]shardRef)}
	}
	return d
}

// AddPG registers a PG with the directory, without a replication handle
// yet (PG_NOT_READY until one is attached via AttachDevice). Used at
// cluster-membership time, outside this core's scope; tests call it
// directly to set up fixtures.
func (d *Directory) AddPG(pgID uint64) *PgEntry {
	d.pgMu.Lock()
	defer d.pgMu.Unlock()
	if e, ok := d.pgs[pgID]; ok {
		return e
	}
	e := &PgEntry{ID: pgID}
	d.pgs[pgID] = e
	return e
}

// AttachDevice binds a PG's replication handle (simulating the point at
// which cluster membership makes the PG ready, §4.3 step 1).
func (d *Directory) AttachDevice(pgID uint64, dev extern.ReplicationDevice) {
	d.pgMu.Lock()
	defer d.pgMu.Unlock()
	if e, ok := d.pgs[pgID]; ok {
		e.Device = dev
	}
}

// GetPG returns the PG entry, or nil if the PG is unknown.
func (d *Directory) GetPG(pgID uint64) *PgEntry {
	d.pgMu.RLock()
	defer d.pgMu.RUnlock()
	return d.pgs[pgID]
}

// ShardSeq returns a PG's current shard_sequence_num.
func (d *Directory) ShardSeq(pgID uint64) uint64 {
	d.pgMu.RLock()
	defer d.pgMu.RUnlock()
	if e, ok := d.pgs[pgID]; ok {
		return e.shardSeq
	}
	return 0
}

// BumpShardSeq raises the PG's shard_sequence_num to at least seq (§4.1,
// §4.4, §5 "Ordering guarantees": monotonic non-decreasing under all
// interleavings).
func (d *Directory) BumpShardSeq(pgID, seq uint64) {
	d.pgMu.Lock()
	defer d.pgMu.Unlock()
	e, ok := d.pgs[pgID]
	if !ok {
		cos.ExitLogf("directory: unknown pg %d on shard-seq bump (broken invariant in replicated log)", pgID)
		return
	}
	if seq > e.shardSeq {
		e.shardSeq = seq
	}
}

// PreIncrementSeq is the ID Allocator's primitive (§4.1): under the PG
// write lock, pre-increment shard_sequence_num and return the new value.
// Callers check the result against shard.MaxPerPG() for exhaustion.
func (d *Directory) PreIncrementSeq(pgID uint64) (newSeq uint64, ok bool) {
	d.pgMu.Lock()
	defer d.pgMu.Unlock()
	e, found := d.pgs[pgID]
	if !found {
		return 0, false
	}
	e.shardSeq++
	return e.shardSeq, true
}

// HasShard reports whether shardID is already present (the CREATE-commit
// idempotence check, §4.4).
func (d *Directory) HasShard(shardID uint64) bool {
	st := d.stripes[stripeIndex(shardID)]
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.m[shardID]
	return ok
}

// GetShard returns a copy of the shard entry, or (zero, false) if unknown.
// Takes only the shard stripe lock: ref.pg is set once at insert time under
// pgMu and never mutated afterward, so steady-state lookups need no second
// lock (§9 "Replacing global lock on create").
func (d *Directory) GetShard(shardID uint64) (ShardEntry, bool) {
	st := d.stripes[stripeIndex(shardID)]
	st.mu.RLock()
	defer st.mu.RUnlock()
	ref, ok := st.m[shardID]
	if !ok {
		return ShardEntry{}, false
	}
	return *ref.pg.shards[ref.pos], true
}

// InsertShard inserts a newly-created shard atomically into both indices
// and advances the PG's shard_sequence_num (§4.4 "Apply — CREATE_SHARD").
// PG and shard locks are acquired together, PG before shard, the one path
// in this design that needs both (§4.5, §9 "Replacing global lock on
// create"). An unknown PG or an already-present shard ID is a broken
// invariant (§7): both abort the process via cos.ExitLogf, so callers
// check HasShard first for the idempotent skip.
func (d *Directory) InsertShard(entry ShardEntry) (inserted bool) {
	pgID := entry.Info.PlacementGroup
	seq := shard.Seq(entry.Info.ID)

	d.pgMu.Lock()
	defer d.pgMu.Unlock()
	pg, ok := d.pgs[pgID]
	if !ok {
		cos.ExitLogf("directory: unknown pg %d on CREATE commit (broken invariant in replicated log)", pgID)
		return false
	}

	st := d.stripes[stripeIndex(entry.Info.ID)]
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.m[entry.Info.ID]; exists {
		cos.ExitLogf("directory: duplicate shard-id insertion %d (broken invariant in replicated log)", entry.Info.ID)
		return false
	}

	pg.shards = append(pg.shards, &entry)
	pg.shardIDs = append(pg.shardIDs, entry.Info.ID)
	pos := len(pg.shards) - 1
	st.m[entry.Info.ID] = shardRef{pg: pg, pos: pos}
	if pg.anyChunk == nil {
		chunk := entry.ChunkID
		pg.anyChunk = &chunk
	}
	if seq > pg.shardSeq {
		pg.shardSeq = seq
	}
	return true
}

// UpdateShard overwrites the in-memory Info for an existing shard (§4.4
// "Apply — SEAL_SHARD"). The shard must already exist; callers assert
// this beforehand (§7, §9 open question on concurrent create/seal). Holds
// only the shard stripe lock (ref.pg needs no second lock, see GetShard),
// which is also what guards readers of the same ShardEntry.Info — see
// Shards().
func (d *Directory) UpdateShard(info shard.Info) {
	st := d.stripes[stripeIndex(info.ID)]
	st.mu.Lock()
	defer st.mu.Unlock()
	ref, ok := st.m[info.ID]
	if !ok {
		cos.ExitLogf("directory: SEAL of unknown shard %d (broken invariant: caller must not seal before local CREATE is observed)", info.ID)
		return
	}
	ref.pg.shards[ref.pos].Info = info
}

// GetShardChunk implements get_shard_chunk(shard_id) (§4.5, §6).
func (d *Directory) GetShardChunk(shardID uint64) (chunkID uint64, ok bool) {
	st := d.stripes[stripeIndex(shardID)]
	st.mu.RLock()
	defer st.mu.RUnlock()
	ref, found := st.m[shardID]
	if !found {
		return 0, false
	}
	return ref.pg.shards[ref.pos].ChunkID, true
}

// GetAnyChunkID implements get_any_chunk_id(pg_id) (§4.5, §6): a
// best-effort placement hint, not authoritative.
func (d *Directory) GetAnyChunkID(pgID uint64) (chunkID uint64, ok bool) {
	d.pgMu.RLock()
	pg, found := d.pgs[pgID]
	if !found {
		d.pgMu.RUnlock()
		return 0, false
	}
	if pg.anyChunk != nil {
		defer d.pgMu.RUnlock()
		return *pg.anyChunk, true
	}
	d.pgMu.RUnlock()

	// cache cold (e.g. superblocks loaded without replaying every CREATE
	// through InsertShard): recompute from the PG's shard list, collapsing
	// concurrent misses for the same PG into one recomputation.
	v, err, _ := d.anyChunkSF.Do(keyForPG(pgID), func() (any, error) {
		d.pgMu.Lock()
		defer d.pgMu.Unlock()
		pg := d.pgs[pgID]
		if pg == nil || len(pg.shards) == 0 {
			return nil, errNoChunkYet
		}
		if pg.anyChunk == nil {
			chunk := pg.shards[0].ChunkID
			pg.anyChunk = &chunk
		}
		return *pg.anyChunk, nil
	})
	if err != nil {
		return 0, false
	}
	return v.(uint64), true
}

func keyForPG(pgID uint64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], pgID)
	return string(b[:])
}

// Shards returns a snapshot of a PG's shard list in commit order, for
// tests and the inspection command. shardIDs is append-only and read here
// under pgMu alone, but each entry's mutable Info can be concurrently
// rewritten by UpdateShard (SEAL apply), so that copy takes the entry's own
// stripe RLock, the same lock UpdateShard writes it under.
func (d *Directory) Shards(pgID uint64) []ShardEntry {
	d.pgMu.RLock()
	pg, ok := d.pgs[pgID]
	if !ok {
		d.pgMu.RUnlock()
		return nil
	}
	shards := pg.shards
	shardIDs := pg.shardIDs
	d.pgMu.RUnlock()

	out := make([]ShardEntry, len(shards))
	for i, s := range shards {
		st := d.stripes[stripeIndex(shardIDs[i])]
		st.mu.RLock()
		out[i] = *s
		st.mu.RUnlock()
	}
	return out
}
