package model

import (
	"encoding/json"
	"time"
)

// GenesisParentHash is the parent hash of the genesis block: 64 zero hex digits.
const GenesisParentHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is one sealed epoch of accepted submissions. Blocks form a
// hash-linked chain: each block's hash covers its parent's hash, so any
// rewrite of history is detectable by walking the chain.
type Block struct {
	BlockID    int64     `json:"block_id"`
	Height     int64     `json:"height"`
	BlockHash  string    `json:"block_hash"`
	ParentHash string    `json:"parent_hash"`
	Timestamp  time.Time `json:"timestamp"`

	// TxCount is the number of accepted submissions folded into the block.
	// Empty blocks are valid and keep the chain ticking during quiet epochs.
	TxCount     int     `json:"tx_count"`
	TotalPoints float64 `json:"total_points"`

	// MinerUserID is the owner of the winning first-acceptance in this
	// block; nil for empty blocks.
	MinerUserID *int64 `json:"miner_user_id,omitempty"`

	// Anchor carries external chain reference data recorded at seal time.
	Anchor json.RawMessage `json:"anchor,omitempty"`
}

// BlockTx is the per-submission view included in a sealed block.
type BlockTx struct {
	SubmissionID string  `json:"submission_id"`
	UserID       int64   `json:"user_id"`
	ProblemID    string  `json:"problem_id"`
	Points       float64 `json:"points"`
}
