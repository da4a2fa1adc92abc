// Package fakedev provides in-memory reference implementations of the
// external collaborators declared in internal/extern: a replication
// device, a chunk selector, and a superblock store. These are test and
// demo fixtures only — the core's business logic never imports this
// package — grounded on the teacher's cluster/mock package, which fakes
// cluster collaborators (stats_mock.go) behind the same interfaces the
// real target code consumes.
package fakedev

import (
	"context"
	"fmt"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/nodestore/shardmgr/internal/extern"
)

// blockIDs is the fake device's BlockIDs: a chunk number plus an opaque
// offset used only to locate the payload in the device's own log, mimicking
// the real device's "blk_ids" concept (§4.4) closely enough for tests.
type blockIDs struct {
	chunk  uint64
	offset int
}

func (b blockIDs) ChunkNum() uint64 { return b.chunk }

// logEntry is one committed entry as the fake device stores it.
type logEntry struct {
	lsn     uint64
	header  []byte
	payload []byte
	blkIDs  blockIDs
	propCtx any
}

// future is the minimal extern.Future the fake device hands back.
type future struct {
	done chan struct{}
	data []byte
	err  error
}

func newFuture() *future { return &future{done: make(chan struct{})} }

func (f *future) resolve(data []byte, err error) {
	f.data, f.err = data, err
	close(f.done)
}

func (f *future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Device is an in-memory stand-in for a per-PG replication handle
// (extern.ReplicationDevice). Entries submitted via AsyncAllocWrite commit
// synchronously and in submission order, which is sufficient to exercise
// the committer's steady-state path; ReplayAll drives the same log a
// second time through a (possibly different) commit callback to exercise
// restart replay (S3, S4, S6).
type Device struct {
	mu        sync.Mutex
	blockSize int
	nextChunk uint64
	nextLSN   uint64
	log       []logEntry
	cb        extern.CommitCallback
	sid       *shortid.Shortid
}

func NewDevice(blockSize int) *Device {
	sid := shortid.MustNew(1, shortid.DefaultABC, 1)
	return &Device{blockSize: blockSize, nextChunk: 1, sid: sid}
}

func (d *Device) BlockSize() int { return d.blockSize }

// GenTieBreak returns a short opaque token for diagnostics when two
// proposals race for the same allocated ID (§4.3 "Tie-breaks and edge
// cases") — whichever entry's token shows up first in the log owns the ID;
// the log order itself is the real tie-break, this just labels entries.
func (d *Device) GenTieBreak() string { return d.sid.MustGenerate() }

func (d *Device) RegisterCommitCB(cb extern.CommitCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// AsyncAllocWrite picks the next chunk number, appends the entry to the
// log, and invokes the commit callback synchronously with the payload
// already in hand (the steady-state path, §4.4).
func (d *Device) AsyncAllocWrite(_ context.Context, header, value []byte, propCtx any) (extern.Future, error) {
	d.mu.Lock()
	chunk := d.nextChunk
	d.nextChunk++
	lsn := d.nextLSN
	d.nextLSN++
	entry := logEntry{
		lsn:     lsn,
		header:  append([]byte(nil), header...),
		payload: alignedBuffer(value),
		blkIDs:  blockIDs{chunk: chunk, offset: len(d.log)},
		propCtx: propCtx,
	}
	d.log = append(d.log, entry)
	cb := d.cb
	d.mu.Unlock()

	f := newFuture()
	if cb != nil {
		cb(entry.lsn, entry.header, entry.payload, entry.blkIDs, d, entry.propCtx)
	}
	f.resolve(nil, nil)
	return f, nil
}

// AsyncRead fetches a payload by block IDs, used by the committer's
// restart-replay path (§4.4 "Payload fetch") when the callback is invoked
// without payload in hand.
func (d *Device) AsyncRead(_ context.Context, blkIDs extern.BlockIDs, _ int) (extern.Future, error) {
	bi, ok := blkIDs.(blockIDs)
	f := newFuture()
	if !ok || bi.offset < 0 {
		f.resolve(nil, fmt.Errorf("fakedev: invalid block ids"))
		return f, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if bi.offset >= len(d.log) {
		f.resolve(nil, fmt.Errorf("fakedev: block ids out of range"))
		return f, nil
	}
	f.resolve(append([]byte(nil), d.log[bi.offset].payload...), nil)
	return f, nil
}

// ReplayAll redelivers every committed entry, without payload, to cb —
// simulating a restart where the device's in-memory payload cache is
// gone but the log itself (on the device's own durable storage) survives
// (§4.4, S3/S4/S6). ctx is always nil on replay: no replica is "the
// leader" with an in-flight future to resolve (§4.4 "Proposer
// notification").
func (d *Device) ReplayAll(cb extern.CommitCallback) {
	d.mu.Lock()
	entries := append([]logEntry(nil), d.log...)
	d.mu.Unlock()
	for _, e := range entries {
		cb(e.lsn, e.header, nil, e.blkIDs, d, nil)
	}
}

// CorruptLastPayload flips a bit in the most recently submitted entry's
// stored payload, for exercising S5 (corrupt entry) via replay.
func (d *Device) CorruptLastPayload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.log) == 0 {
		return
	}
	last := &d.log[len(d.log)-1]
	if len(last.payload) > 0 {
		last.payload[0] ^= 0x01
	}
}

// ChunkSelector is an in-memory busy-set, grounded on the teacher's
// pattern of small mock collaborators in cluster/mock.
type ChunkSelector struct {
	mu    sync.Mutex
	busy  map[uint64]bool
	calls []string
}

func NewChunkSelector() *ChunkSelector {
	return &ChunkSelector{busy: make(map[uint64]bool)}
}

func (c *ChunkSelector) SelectSpecificChunk(chunkNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy[chunkNum] = true
	c.calls = append(c.calls, fmt.Sprintf("select(%d)", chunkNum))
}

func (c *ChunkSelector) ReleaseChunk(chunkNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, chunkNum)
	c.calls = append(c.calls, fmt.Sprintf("release(%d)", chunkNum))
}

func (c *ChunkSelector) IsBusy(chunkNum uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[chunkNum]
}

// SuperblockStore is an in-memory named-blob KV store (extern.
// SuperblockStore), grounded on the same mock-collaborator idiom.
type SuperblockStore struct {
	mu   sync.Mutex
	blob map[string]map[uint64][]byte
}

func NewSuperblockStore() *SuperblockStore {
	return &SuperblockStore{blob: make(map[string]map[uint64][]byte)}
}

func (s *SuperblockStore) Create(family string, shardID uint64, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fam, ok := s.blob[family]
	if !ok {
		fam = make(map[uint64][]byte)
		s.blob[family] = fam
	}
	if _, exists := fam[shardID]; exists {
		return extern.ErrExists
	}
	fam[shardID] = make([]byte, size)
	return nil
}

func (s *SuperblockStore) Write(family string, shardID uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fam, ok := s.blob[family]
	if !ok {
		fam = make(map[uint64][]byte)
		s.blob[family] = fam
	}
	fam[shardID] = append([]byte(nil), data...)
	return nil
}

func (s *SuperblockStore) LoadAll(family string) (map[uint64][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fam := s.blob[family]
	out := make(map[uint64][]byte, len(fam))
	for k, v := range fam {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// Has reports whether a blob exists, used by tests to check S4 (replay
// with superblock already written pre-crash).
func (s *SuperblockStore) Has(family string, shardID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blob[family][shardID]
	return ok
}
