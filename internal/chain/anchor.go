package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// AnchorProvider supplies external chain reference data recorded into
// each sealed block.
type AnchorProvider interface {
	Anchor(height int64, ts time.Time) (json.RawMessage, error)
}

// anchorRecord is the stored anchor payload.
type anchorRecord struct {
	Network      string `json:"network"`
	AnchorHeight int64  `json:"anchor_height"`
	AnchorHash   string `json:"anchor_hash"`
	RecordedAt   int64  `json:"recorded_at"`
}

// MockAnchorProvider produces deterministic height-seeded anchor data.
// It stands in for a real external-chain client so the ledger format is
// exercised end to end without network access.
type MockAnchorProvider struct {
	// BaseHeight offsets the simulated external chain height.
	BaseHeight int64
}

const mockAnchorNetwork = "bitcoin-mock"

func (m MockAnchorProvider) Anchor(height int64, ts time.Time) (json.RawMessage, error) {
	anchorHeight := m.BaseHeight + height*6
	seed := fmt.Sprintf("%s:%d", mockAnchorNetwork, anchorHeight)
	sum := sha256.Sum256([]byte(seed))

	record := anchorRecord{
		Network:      mockAnchorNetwork,
		AnchorHeight: anchorHeight,
		AnchorHash:   hex.EncodeToString(sum[:]),
		RecordedAt:   ts.Unix(),
	}
	return json.Marshal(record)
}

var _ AnchorProvider = MockAnchorProvider{}
