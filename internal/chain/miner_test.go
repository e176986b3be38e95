package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chainjudge/internal/chain"
	"chainjudge/internal/common/cache"
	"chainjudge/internal/model"
	"chainjudge/pkg/errors"
)

type fakeChainStore struct {
	blocks    []model.Block
	blockTxs  map[int64][]model.BlockTx
	unmined   []model.BlockTx
	commitErr error
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{blockTxs: make(map[int64][]model.BlockTx)}
}

func (f *fakeChainStore) TipBlock(ctx context.Context) (*model.Block, error) {
	if len(f.blocks) == 0 {
		return nil, nil
	}
	tip := f.blocks[len(f.blocks)-1]
	return &tip, nil
}

func (f *fakeChainStore) UnminedAccepted(ctx context.Context, until time.Time) ([]model.BlockTx, error) {
	return f.unmined, nil
}

func (f *fakeChainStore) CommitBlock(ctx context.Context, block *model.Block, txs []model.BlockTx) (int64, error) {
	if f.commitErr != nil {
		return 0, f.commitErr
	}
	block.BlockID = int64(len(f.blocks) + 1)
	f.blocks = append(f.blocks, *block)
	f.blockTxs[block.Height] = txs
	f.unmined = nil
	return block.BlockID, nil
}

func (f *fakeChainStore) BlockByHeight(ctx context.Context, height int64) (*model.Block, error) {
	for i := range f.blocks {
		if f.blocks[i].Height == height {
			b := f.blocks[i]
			return &b, nil
		}
	}
	return nil, errors.New(errors.RecordNotFound)
}

func (f *fakeChainStore) BlockByID(ctx context.Context, blockID int64) (*model.Block, error) {
	for i := range f.blocks {
		if f.blocks[i].BlockID == blockID {
			b := f.blocks[i]
			return &b, nil
		}
	}
	return nil, errors.New(errors.RecordNotFound)
}

func (f *fakeChainStore) BlocksByHeightRange(ctx context.Context, from, to int64) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.blocks {
		if b.Height >= from && b.Height <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func newTestLock(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create redis cache: %v", err)
	}
	return c
}

func TestBootstrapCreatesGenesis(t *testing.T) {
	st := newFakeChainStore()
	m := chain.NewMiner(st, newTestLock(t), nil, time.Minute, "node-a")
	ctx := context.Background()

	if err := m.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(st.blocks) != 1 {
		t.Fatalf("expected one block after bootstrap, got %d", len(st.blocks))
	}
	genesis := st.blocks[0]
	if genesis.Height != 0 {
		t.Fatalf("expected height 0, got %d", genesis.Height)
	}
	if genesis.ParentHash != model.GenesisParentHash {
		t.Fatalf("unexpected genesis parent: %s", genesis.ParentHash)
	}
	if genesis.TxCount != 0 || genesis.MinerUserID != nil {
		t.Fatal("genesis must carry no transactions and no miner")
	}

	// A second bootstrap is a no-op on a non-empty chain.
	if err := m.Bootstrap(ctx); err != nil {
		t.Fatalf("repeat bootstrap: %v", err)
	}
	if len(st.blocks) != 1 {
		t.Fatalf("repeat bootstrap must not add blocks, got %d", len(st.blocks))
	}
}

func TestMineOnceBackfillsGenesis(t *testing.T) {
	st := newFakeChainStore()
	st.unmined = []model.BlockTx{
		{SubmissionID: "s1", UserID: 7, ProblemID: "p-a", Points: 1000},
	}
	m := chain.NewMiner(st, newTestLock(t), nil, time.Minute, "node-a")

	// A tick on an empty chain must not park pending acceptances
	// behind an empty genesis for a whole epoch.
	block, err := m.MineOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("mine on empty chain: %v", err)
	}
	if len(st.blocks) != 2 {
		t.Fatalf("expected genesis plus epoch block, got %d blocks", len(st.blocks))
	}
	if st.blocks[0].Height != 0 || st.blocks[0].TxCount != 0 {
		t.Fatalf("unexpected genesis: %+v", st.blocks[0])
	}
	if block.Height != 1 || block.TxCount != 1 || block.ParentHash != st.blocks[0].BlockHash {
		t.Fatalf("epoch block must extend genesis and carry the mempool: %+v", block)
	}
}

func TestMineOnceSealsEpochs(t *testing.T) {
	st := newFakeChainStore()
	m := chain.NewMiner(st, newTestLock(t), chain.MockAnchorProvider{}, time.Minute, "node-a")
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := m.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	genesis := &st.blocks[0]

	st.unmined = []model.BlockTx{
		{SubmissionID: "s1", UserID: 7, ProblemID: "p-a", Points: 1000},
		{SubmissionID: "s2", UserID: 8, ProblemID: "p-a", Points: 909.09},
	}
	block, err := m.MineOnce(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("mine block 1: %v", err)
	}
	if block.Height != 1 || block.ParentHash != genesis.BlockHash {
		t.Fatalf("block 1 does not extend genesis: %+v", block)
	}
	if block.TxCount != 2 || block.TotalPoints != 1909.09 {
		t.Fatalf("unexpected block payload: %+v", block)
	}
	if block.MinerUserID == nil || *block.MinerUserID != 7 {
		t.Fatalf("expected miner 7, got %v", block.MinerUserID)
	}
	if !chain.VerifyLink(genesis, block, st.blockTxs[1]) {
		t.Fatal("sealed block fails link verification")
	}

	// An epoch with nothing accepted still advances the chain.
	empty, err := m.MineOnce(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("mine empty block: %v", err)
	}
	if empty.Height != 2 || empty.TxCount != 0 || empty.MinerUserID != nil {
		t.Fatalf("unexpected empty block: %+v", empty)
	}
}

func TestMineOnceYieldsWhenLeaseHeld(t *testing.T) {
	st := newFakeChainStore()
	lock := newTestLock(t)
	ctx := context.Background()

	held, err := lock.AcquireLock(ctx, "chain:miner:leader", "other-node:token", time.Minute)
	if err != nil || !held {
		t.Fatalf("seed foreign lease: held=%v err=%v", held, err)
	}

	m := chain.NewMiner(st, lock, nil, time.Minute, "node-b")
	block, err := m.MineOnce(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("mine with foreign lease: %v", err)
	}
	if block != nil {
		t.Fatal("expected no block while another node holds the lease")
	}
	if len(st.blocks) != 0 {
		t.Fatal("store must stay untouched while the lease is foreign")
	}
}

func TestMineOnceReleasesLease(t *testing.T) {
	st := newFakeChainStore()
	lock := newTestLock(t)
	m := chain.NewMiner(st, lock, nil, time.Minute, "node-a")
	ctx := context.Background()

	if _, err := m.MineOnce(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("mine: %v", err)
	}

	// The lease must be free again for the next holder.
	held, err := lock.AcquireLock(ctx, "chain:miner:leader", "next:token", time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !held {
		t.Fatal("lease was not released after mining")
	}
}

func TestMineOnceCommitFailure(t *testing.T) {
	st := newFakeChainStore()
	st.commitErr = errors.New(errors.BlockCommitFailed)
	m := chain.NewMiner(st, newTestLock(t), nil, time.Minute, "node-a")

	if _, err := m.MineOnce(context.Background(), time.Now().UTC()); !errors.Is(err, errors.BlockCommitFailed) {
		t.Fatalf("expected BlockCommitFailed, got %v", err)
	}
}
