package directory

import (
	"os"
	"os/exec"
	"testing"

	"github.com/nodestore/shardmgr/internal/shard"
)

func TestInsertAndLookup(t *testing.T) {
	d := New()
	d.AddPG(7)

	info := shard.Info{ID: shard.ComposeID(7, 1), PlacementGroup: 7, State: shard.Open, TotalCapacityBytes: 100, AvailableCapacityBytes: 100}
	if os.Getenv("DIRECTORY_TEST_DUP_INSERT") == "1" {
		// child process: the duplicate insert below must abort the process
		d.InsertShard(ShardEntry{Info: info, ChunkID: 42})
		d.InsertShard(ShardEntry{Info: info, ChunkID: 42})
		return
	}
	if !d.InsertShard(ShardEntry{Info: info, ChunkID: 42}) {
		t.Fatal("expected first insert to succeed")
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestInsertAndLookup$")
	cmd.Env = append(os.Environ(), "DIRECTORY_TEST_DUP_INSERT=1")
	if err := cmd.Run(); err == nil {
		t.Fatal("expected duplicate insert to abort the process, not return")
	}

	chunk, ok := d.GetShardChunk(info.ID)
	if !ok || chunk != 42 {
		t.Fatalf("GetShardChunk = (%d, %v), want (42, true)", chunk, ok)
	}

	anyChunk, ok := d.GetAnyChunkID(7)
	if !ok || anyChunk != 42 {
		t.Fatalf("GetAnyChunkID = (%d, %v), want (42, true)", anyChunk, ok)
	}

	if seq := d.ShardSeq(7); seq != 1 {
		t.Fatalf("ShardSeq = %d, want 1", seq)
	}
}

func TestBumpShardSeqMonotonic(t *testing.T) {
	d := New()
	d.AddPG(1)
	d.BumpShardSeq(1, 5)
	d.BumpShardSeq(1, 3) // must not regress
	if got := d.ShardSeq(1); got != 5 {
		t.Fatalf("ShardSeq = %d, want 5", got)
	}
	d.BumpShardSeq(1, 9)
	if got := d.ShardSeq(1); got != 9 {
		t.Fatalf("ShardSeq = %d, want 9", got)
	}
}

func TestUpdateShardSeal(t *testing.T) {
	d := New()
	d.AddPG(1)
	info := shard.Info{ID: shard.ComposeID(1, 1), PlacementGroup: 1, State: shard.Open, TotalCapacityBytes: 10, AvailableCapacityBytes: 10}
	d.InsertShard(ShardEntry{Info: info, ChunkID: 1})

	sealed := info
	sealed.State = shard.Sealed
	d.UpdateShard(sealed)

	got, ok := d.GetShard(info.ID)
	if !ok {
		t.Fatal("shard missing after update")
	}
	if got.Info.State != shard.Sealed {
		t.Fatalf("state = %v, want SEALED", got.Info.State)
	}
}

func TestGetAnyChunkIDRecomputesColdCache(t *testing.T) {
	d := New()
	d.AddPG(4)
	info := shard.Info{ID: shard.ComposeID(4, 1), PlacementGroup: 4, State: shard.Open, TotalCapacityBytes: 1, AvailableCapacityBytes: 1}
	d.InsertShard(ShardEntry{Info: info, ChunkID: 77})

	// simulate a cold cache, as if superblocks were loaded without going
	// through InsertShard's automatic anyChunk population.
	d.pgMu.Lock()
	d.pgs[4].anyChunk = nil
	d.pgMu.Unlock()

	chunk, ok := d.GetAnyChunkID(4)
	if !ok || chunk != 77 {
		t.Fatalf("GetAnyChunkID = (%d, %v), want (77, true)", chunk, ok)
	}
}

func TestUnknownLookupsReturnFalse(t *testing.T) {
	d := New()
	if d.GetPG(999) != nil {
		t.Fatal("expected nil for unknown PG")
	}
	if _, ok := d.GetShardChunk(123); ok {
		t.Fatal("expected ok=false for unknown shard")
	}
	if _, ok := d.GetAnyChunkID(999); ok {
		t.Fatal("expected ok=false for unknown PG")
	}
}
