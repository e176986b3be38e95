// Package chain seals accepted submissions into a hash-linked block
// ledger on a fixed epoch cadence.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"chainjudge/internal/model"
)

// CanonicalTxs renders the block's transactions in their canonical text
// form, one line per transaction in queue order:
//
//	submission_id|user_id|problem_id|points
//
// with points fixed to two decimals. The canonical form feeds the block
// hash, so it must never change once blocks exist.
func CanonicalTxs(txs []model.BlockTx) string {
	var b strings.Builder
	for _, tx := range txs {
		b.WriteString(tx.SubmissionID)
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(tx.UserID, 10))
		b.WriteByte('|')
		b.WriteString(tx.ProblemID)
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(tx.Points, 'f', 2, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

// TxsHash hashes the canonical transaction form.
func TxsHash(txs []model.BlockTx) string {
	sum := sha256.Sum256([]byte(CanonicalTxs(txs)))
	return hex.EncodeToString(sum[:])
}

// BlockHash computes the deterministic block hash:
//
//	SHA-256(height|parent_hash|unix_seconds|txs_hash|miner_id)
//
// An empty miner field stands in for blocks with no miner. Identical
// inputs always produce the identical hash, so any replica can verify
// the chain by recomputation.
func BlockHash(height int64, parentHash string, ts time.Time, txs []model.BlockTx, minerUserID *int64) string {
	miner := ""
	if minerUserID != nil {
		miner = strconv.FormatInt(*minerUserID, 10)
	}
	payload := strings.Join([]string{
		strconv.FormatInt(height, 10),
		parentHash,
		strconv.FormatInt(ts.Unix(), 10),
		TxsHash(txs),
		miner,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// SelectMiner picks the block's miner: the owner of the first acceptance
// of the problem most solved within this block. Ties between problems
// break toward the one whose first acceptance came earliest. Returns nil
// for empty blocks. txs must be in queue order.
func SelectMiner(txs []model.BlockTx) *int64 {
	if len(txs) == 0 {
		return nil
	}

	counts := make(map[string]int)
	firstIdx := make(map[string]int)
	for i, tx := range txs {
		counts[tx.ProblemID]++
		if _, ok := firstIdx[tx.ProblemID]; !ok {
			firstIdx[tx.ProblemID] = i
		}
	}

	best := ""
	for problemID := range counts {
		if best == "" {
			best = problemID
			continue
		}
		if counts[problemID] > counts[best] ||
			(counts[problemID] == counts[best] && firstIdx[problemID] < firstIdx[best]) {
			best = problemID
		}
	}

	miner := txs[firstIdx[best]].UserID
	return &miner
}

// VerifyLink checks that child correctly extends parent: heights are
// consecutive, the parent hash matches, and the child's hash recomputes
// from its own fields.
func VerifyLink(parent, child *model.Block, txs []model.BlockTx) bool {
	if parent == nil || child == nil {
		return false
	}
	if child.Height != parent.Height+1 {
		return false
	}
	if child.ParentHash != parent.BlockHash {
		return false
	}
	return child.BlockHash == BlockHash(child.Height, child.ParentHash, child.Timestamp, txs, child.MinerUserID)
}
