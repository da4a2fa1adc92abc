package committer_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/nodestore/shardmgr/internal/committer"
	"github.com/nodestore/shardmgr/internal/directory"
	"github.com/nodestore/shardmgr/internal/fakedev"
	"github.com/nodestore/shardmgr/internal/shard"
)

// §8 property 1: ID uniqueness.
var _ = Describe("ID uniqueness", func() {
	It("allocates distinct, strictly monotonic sequences within a PG", func() {
		fx := buildFixture(7)
		seen := map[uint64]bool{}
		var lastSeq uint64
		for i := 0; i < 20; i++ {
			f, err := fx.prop.CreateShard(context.Background(), 7, 1<<16)
			Expect(err).NotTo(HaveOccurred())
			info, err := f.Wait(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(seen[info.ID]).To(BeFalse(), "shard id %d allocated twice", info.ID)
			seen[info.ID] = true

			seq := shard.Seq(info.ID)
			Expect(seq).To(BeNumerically(">", lastSeq))
			lastSeq = seq
		}
	})
})

// §8 property 2: sequence catch-up.
var _ = Describe("sequence catch-up", func() {
	It("brings shard_sequence_num to the max seq of any CREATE in the replayed prefix", func() {
		fx := buildFixture(3)
		var lastID uint64
		for i := 0; i < 7; i++ {
			f, err := fx.prop.CreateShard(context.Background(), 3, 1<<16)
			Expect(err).NotTo(HaveOccurred())
			info, err := f.Wait(context.Background())
			Expect(err).NotTo(HaveOccurred())
			lastID = info.ID
		}

		follower := directory.New()
		follower.AddPG(3)
		followerCommit := committer.New(follower, fakedev.NewChunkSelector(), fakedev.NewSuperblockStore(), 512)
		fx.dev.ReplayAll(followerCommit.OnCommit)
		followerCommit.Drain()

		Expect(follower.ShardSeq(3)).To(Equal(shard.Seq(lastID)))
	})
})

// §8 property 3: idempotent commit.
var _ = Describe("idempotent commit", func() {
	It("yields the same state whether an entry is applied once or twice", func() {
		fx := buildFixture(9)
		f, err := fx.prop.CreateShard(context.Background(), 9, 1<<18)
		Expect(err).NotTo(HaveOccurred())
		created, err := f.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())

		chunkOnce, ok := fx.dir.GetShardChunk(created.ID)
		Expect(ok).To(BeTrue())
		seqOnce := fx.dir.ShardSeq(9)

		// re-deliver the same committed entry a second time, as a
		// crash-and-replay would (§4.4 idempotent apply).
		fx.dev.ReplayAll(fx.commit.OnCommit)
		fx.commit.Drain()

		chunkTwice, ok := fx.dir.GetShardChunk(created.ID)
		Expect(ok).To(BeTrue())
		Expect(chunkTwice).To(Equal(chunkOnce))
		Expect(fx.dir.ShardSeq(9)).To(Equal(seqOnce))
		Expect(fx.selector.IsBusy(chunkOnce)).To(BeTrue())
	})
})
