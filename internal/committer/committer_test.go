package committer_test

import (
	"context"
	"testing"

	"github.com/nodestore/shardmgr/internal/committer"
	"github.com/nodestore/shardmgr/internal/directory"
	"github.com/nodestore/shardmgr/internal/fakedev"
	"github.com/nodestore/shardmgr/internal/future"
	"github.com/nodestore/shardmgr/internal/idalloc"
	"github.com/nodestore/shardmgr/internal/proposer"
	"github.com/nodestore/shardmgr/internal/shard"
)

type fixture struct {
	dir      *directory.Directory
	dev      *fakedev.Device
	selector *fakedev.ChunkSelector
	store    *fakedev.SuperblockStore
	commit   *committer.Committer
	prop     *proposer.Proposer
}

func newFixture(t *testing.T, pgID uint64) *fixture {
	t.Helper()
	return buildFixture(pgID)
}

// buildFixture is the t-independent core of newFixture, shared with the
// ginkgo property specs in properties_test.go which have no *testing.T.
func buildFixture(pgID uint64) *fixture {
	dir := directory.New()
	dir.AddPG(pgID)
	dev := fakedev.NewDevice(512)
	selector := fakedev.NewChunkSelector()
	store := fakedev.NewSuperblockStore()
	commit := committer.New(dir, selector, store, 512)
	dev.RegisterCommitCB(commit.OnCommit)
	dir.AttachDevice(pgID, dev)
	alloc := idalloc.New(dir)
	prop := proposer.New(dir, alloc, commit)
	return &fixture{dir: dir, dev: dev, selector: selector, store: store, commit: commit, prop: prop}
}

func mustWait(t *testing.T, f *future.Future) *shard.Info {
	t.Helper()
	info, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("future failed: %v", err)
	}
	return info
}

// S1 Create-then-seal.
func TestCreateThenSeal(t *testing.T) {
	fx := newFixture(t, 7)

	f, err := fx.prop.CreateShard(context.Background(), 7, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	info := mustWait(t, f)
	if info.State != shard.Open {
		t.Fatalf("state = %v, want OPEN", info.State)
	}
	if info.TotalCapacityBytes != 1<<20 || info.AvailableCapacityBytes != 1<<20 || info.DeletedCapacityBytes != 0 {
		t.Fatalf("unexpected capacities: %+v", info)
	}
	if shard.Seq(info.ID) != 1 {
		t.Fatalf("expected first sequence to be 1, got %d", shard.Seq(info.ID))
	}

	chunkBefore, ok := fx.dir.GetShardChunk(info.ID)
	if !ok {
		t.Fatal("expected chunk binding after CREATE")
	}
	if !fx.selector.IsBusy(chunkBefore) {
		t.Fatal("expected chunk marked busy after CREATE")
	}

	sf, err := fx.prop.SealShard(context.Background(), *info)
	if err != nil {
		t.Fatal(err)
	}
	sealed := mustWait(t, sf)
	if sealed.State != shard.Sealed {
		t.Fatalf("state = %v, want SEALED", sealed.State)
	}

	if fx.selector.IsBusy(chunkBefore) {
		t.Fatal("expected chunk released after SEAL")
	}

	chunkAfter, ok := fx.dir.GetShardChunk(info.ID)
	if !ok || chunkAfter != chunkBefore {
		t.Fatalf("chunk binding changed across SEAL: %d -> %d", chunkBefore, chunkAfter)
	}
}

// S2 Unknown PG.
func TestUnknownPG(t *testing.T) {
	fx := newFixture(t, 7)
	_, err := fx.prop.CreateShard(context.Background(), 999, 1<<20)
	if err == nil {
		t.Fatal("expected error for unknown PG")
	}
}

func TestPGNotReady(t *testing.T) {
	dir := directory.New()
	dir.AddPG(5) // no device attached
	selector := fakedev.NewChunkSelector()
	store := fakedev.NewSuperblockStore()
	commit := committer.New(dir, selector, store, 512)
	alloc := idalloc.New(dir)
	prop := proposer.New(dir, alloc, commit)

	_, err := prop.CreateShard(context.Background(), 5, 1<<20)
	if err == nil {
		t.Fatal("expected PG_NOT_READY error")
	}
}

// S3 Replay without superblock: the committer materialises the shard from
// the log alone.
func TestReplayWithoutSuperblock(t *testing.T) {
	fx := newFixture(t, 7)
	f, err := fx.prop.CreateShard(context.Background(), 7, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	created := mustWait(t, f)

	// simulate a fresh replica: new directory/committer/store, same log.
	dir2 := directory.New()
	dir2.AddPG(7)
	selector2 := fakedev.NewChunkSelector()
	store2 := fakedev.NewSuperblockStore()
	commit2 := committer.New(dir2, selector2, store2, 512)

	fx.dev.ReplayAll(commit2.OnCommit)
	commit2.Drain()

	chunk, ok := dir2.GetShardChunk(created.ID)
	if !ok {
		t.Fatal("expected shard materialised from replay")
	}
	if !selector2.IsBusy(chunk) {
		t.Fatal("expected chunk selector busy set rebuilt by replay")
	}
	if !store2.Has("shard", created.ID) {
		t.Fatal("expected superblock written during replay")
	}
	if got := dir2.ShardSeq(7); got != shard.Seq(created.ID) {
		t.Fatalf("ShardSeq after replay = %d, want %d", got, shard.Seq(created.ID))
	}
}

// S4 Replay with superblock already present: replay is a no-op beyond
// advancing shard_sequence_num.
func TestReplayWithSuperblockAlreadyPresent(t *testing.T) {
	fx := newFixture(t, 7)
	f, err := fx.prop.CreateShard(context.Background(), 7, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	created := mustWait(t, f)

	chunkBefore, _ := fx.dir.GetShardChunk(created.ID)
	callsBefore := fx.selector.IsBusy(chunkBefore)

	// replay against the SAME directory/selector/store that already has
	// the shard (as if a crash happened after superblock write).
	fx.dev.ReplayAll(fx.commit.OnCommit)
	fx.commit.Drain()

	chunkAfter, ok := fx.dir.GetShardChunk(created.ID)
	if !ok || chunkAfter != chunkBefore {
		t.Fatalf("chunk binding changed on idempotent replay: %d -> %d", chunkBefore, chunkAfter)
	}
	if !callsBefore || !fx.selector.IsBusy(chunkAfter) {
		t.Fatal("expected chunk to remain busy across idempotent replay")
	}
	if got := fx.dir.ShardSeq(7); got != shard.Seq(created.ID) {
		t.Fatalf("ShardSeq after idempotent replay = %d, want %d", got, shard.Seq(created.ID))
	}
}

// S5 Corrupt entry: a committed entry whose stored payload has a flipped
// bit fails its payload CRC check on replay and is skipped; later entries
// still apply.
func TestCorruptEntrySkippedNotFatal(t *testing.T) {
	fx := newFixture(t, 7)
	f1, err := fx.prop.CreateShard(context.Background(), 7, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	first := mustWait(t, f1)

	fx.dev.CorruptLastPayload()

	// replay the (now corrupt) entry into a fresh replica; it must be
	// reported/skipped rather than crashing the committer.
	dir2 := directory.New()
	dir2.AddPG(7)
	selector2 := fakedev.NewChunkSelector()
	store2 := fakedev.NewSuperblockStore()
	commit2 := committer.New(dir2, selector2, store2, 512)
	fx.dev.ReplayAll(commit2.OnCommit)
	commit2.Drain()

	if dir2.HasShard(first.ID) {
		t.Fatal("expected corrupt entry to be skipped, not applied")
	}

	// a second, valid CREATE on the same (corrupted) device's directory
	// must still apply normally.
	f2, err := fx.prop.CreateShard(context.Background(), 7, 2<<20)
	if err != nil {
		t.Fatal(err)
	}
	second := mustWait(t, f2)
	if second.State != shard.Open {
		t.Fatalf("expected second CREATE to apply normally, got %+v", second)
	}
}

// S6 Follower catch-up: a follower replays commits 1..N in order and
// converges on the same shard set and sequence as the leader.
func TestFollowerCatchUp(t *testing.T) {
	fx := newFixture(t, 7)
	var created []*shard.Info
	for i := 0; i < 5; i++ {
		f, err := fx.prop.CreateShard(context.Background(), 7, int64(1+i)<<20)
		if err != nil {
			t.Fatal(err)
		}
		created = append(created, mustWait(t, f))
	}

	follower := directory.New()
	follower.AddPG(7)
	followerSelector := fakedev.NewChunkSelector()
	followerStore := fakedev.NewSuperblockStore()
	followerCommit := committer.New(follower, followerSelector, followerStore, 512)

	fx.dev.ReplayAll(followerCommit.OnCommit)
	followerCommit.Drain()

	if got := follower.ShardSeq(7); got != 5 {
		t.Fatalf("follower ShardSeq = %d, want 5", got)
	}
	leaderShards := fx.dir.Shards(7)
	followerShards := follower.Shards(7)
	if len(leaderShards) != len(followerShards) {
		t.Fatalf("shard count mismatch: leader %d, follower %d", len(leaderShards), len(followerShards))
	}
	for i := range leaderShards {
		if leaderShards[i].Info.ID != followerShards[i].Info.ID {
			t.Fatalf("shard set diverged at %d: %d != %d", i, leaderShards[i].Info.ID, followerShards[i].Info.ID)
		}
		if leaderShards[i].ChunkID != followerShards[i].ChunkID {
			t.Fatalf("chunk binding diverged at shard %d", leaderShards[i].Info.ID)
		}
	}
}
