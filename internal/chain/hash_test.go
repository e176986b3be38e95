package chain_test

import (
	"strings"
	"testing"
	"time"

	"chainjudge/internal/chain"
	"chainjudge/internal/model"
)

func tx(id string, user int64, problem string, points float64) model.BlockTx {
	return model.BlockTx{SubmissionID: id, UserID: user, ProblemID: problem, Points: points}
}

func TestCanonicalTxs(t *testing.T) {
	t.Parallel()
	txs := []model.BlockTx{
		tx("s1", 7, "p-a", 1000),
		tx("s2", 8, "p-b", 909.091),
	}
	got := chain.CanonicalTxs(txs)
	want := "s1|7|p-a|1000.00\ns2|8|p-b|909.09\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if chain.CanonicalTxs(nil) != "" {
		t.Fatal("empty tx list should canonicalize to the empty string")
	}
}

func TestBlockHashDeterministic(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	txs := []model.BlockTx{tx("s1", 7, "p-a", 500)}
	miner := int64(7)

	h1 := chain.BlockHash(3, "ab", ts, txs, &miner)
	h2 := chain.BlockHash(3, "ab", ts, txs, &miner)
	if h1 != h2 {
		t.Fatal("identical inputs must hash identically")
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Fatalf("expected lowercase hex sha-256, got %q", h1)
	}

	// Sub-second timestamp precision must not affect the hash.
	if chain.BlockHash(3, "ab", ts.Add(500*time.Millisecond), txs, &miner) != h1 {
		t.Fatal("hash must use whole-second timestamps")
	}

	if chain.BlockHash(4, "ab", ts, txs, &miner) == h1 {
		t.Fatal("height must change the hash")
	}
	if chain.BlockHash(3, "cd", ts, txs, &miner) == h1 {
		t.Fatal("parent hash must change the hash")
	}
	if chain.BlockHash(3, "ab", ts.Add(time.Second), txs, &miner) == h1 {
		t.Fatal("timestamp must change the hash")
	}
	if chain.BlockHash(3, "ab", ts, nil, &miner) == h1 {
		t.Fatal("transactions must change the hash")
	}
	if chain.BlockHash(3, "ab", ts, txs, nil) == h1 {
		t.Fatal("miner must change the hash")
	}
}

func TestSelectMiner(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		txs  []model.BlockTx
		want *int64
	}{
		{name: "empty block has no miner", txs: nil, want: nil},
		{
			name: "single tx",
			txs:  []model.BlockTx{tx("s1", 7, "p-a", 100)},
			want: ptr(7),
		},
		{
			name: "most solved problem wins",
			txs: []model.BlockTx{
				tx("s1", 1, "p-a", 100),
				tx("s2", 2, "p-b", 100),
				tx("s3", 3, "p-b", 100),
			},
			want: ptr(2),
		},
		{
			name: "tie breaks to earliest first acceptance",
			txs: []model.BlockTx{
				tx("s1", 5, "p-a", 100),
				tx("s2", 6, "p-b", 100),
				tx("s3", 7, "p-b", 100),
				tx("s4", 8, "p-a", 100),
			},
			want: ptr(5),
		},
		{
			name: "miner is owner of first acceptance of winning problem",
			txs: []model.BlockTx{
				tx("s1", 1, "p-a", 100),
				tx("s2", 9, "p-b", 100),
				tx("s3", 2, "p-b", 100),
				tx("s4", 3, "p-b", 100),
			},
			want: ptr(9),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := chain.SelectMiner(tt.txs)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if got != nil && *got != *tt.want {
				t.Fatalf("expected miner %d, got %d", *tt.want, *got)
			}
		})
	}
}

func TestVerifyLink(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	parent, err := chain.SealBlock(0, model.GenesisParentHash, ts, nil, nil)
	if err != nil {
		t.Fatalf("seal genesis: %v", err)
	}
	txs := []model.BlockTx{tx("s1", 7, "p-a", 250)}
	child, err := chain.SealBlock(1, parent.BlockHash, ts.Add(time.Minute), txs, nil)
	if err != nil {
		t.Fatalf("seal child: %v", err)
	}

	if !chain.VerifyLink(parent, child, txs) {
		t.Fatal("valid link rejected")
	}
	if chain.VerifyLink(parent, child, nil) {
		t.Fatal("tampered transactions accepted")
	}

	bad := *child
	bad.Height = 2
	if chain.VerifyLink(parent, &bad, txs) {
		t.Fatal("non-consecutive height accepted")
	}

	bad = *child
	bad.ParentHash = model.GenesisParentHash
	if chain.VerifyLink(parent, &bad, txs) {
		t.Fatal("wrong parent hash accepted")
	}

	if chain.VerifyLink(nil, child, txs) || chain.VerifyLink(parent, nil, txs) {
		t.Fatal("nil blocks accepted")
	}
}

func TestSealBlockTotals(t *testing.T) {
	t.Parallel()
	ts := time.Now().UTC()
	txs := []model.BlockTx{
		tx("s1", 1, "p-a", 100.5),
		tx("s2", 2, "p-a", 49.5),
	}
	block, err := chain.SealBlock(5, "parent", ts, txs, chain.MockAnchorProvider{BaseHeight: 800000})
	if err != nil {
		t.Fatalf("seal block: %v", err)
	}
	if block.TxCount != 2 {
		t.Fatalf("expected tx count 2, got %d", block.TxCount)
	}
	if block.TotalPoints != 150 {
		t.Fatalf("expected total 150, got %v", block.TotalPoints)
	}
	if block.MinerUserID == nil || *block.MinerUserID != 1 {
		t.Fatalf("unexpected miner: %v", block.MinerUserID)
	}
	if len(block.Anchor) == 0 {
		t.Fatal("expected anchor payload")
	}
}

func ptr(v int64) *int64 { return &v }
