package chain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainjudge/internal/common/cache"
	"chainjudge/internal/model"
	"chainjudge/internal/store"
	"chainjudge/pkg/errors"
	"chainjudge/pkg/utils/logger"
)

const leaderLockKey = "chain:miner:leader"

// Miner seals one block per epoch. Multiple dispatcher replicas may run
// a miner; a distributed leader lease guarantees a single writer per
// epoch, and the unique height constraint backstops the lease.
type Miner struct {
	store   store.ChainStore
	lock    cache.LockOps
	anchors AnchorProvider
	epoch   time.Duration
	nodeID  string
	token   string
}

// NewMiner creates a miner for this node.
func NewMiner(chainStore store.ChainStore, lock cache.LockOps, anchors AnchorProvider, epoch time.Duration, nodeID string) *Miner {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Miner{
		store:   chainStore,
		lock:    lock,
		anchors: anchors,
		epoch:   epoch,
		nodeID:  nodeID,
		token:   nodeID + ":" + uuid.NewString(),
	}
}

// Run seals blocks on the epoch cadence until ctx is done. The chain is
// bootstrapped before the first tick so genesis exists from startup.
func (m *Miner) Run(ctx context.Context) {
	if err := m.Bootstrap(ctx); err != nil {
		logger.Error(ctx, "chain bootstrap failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.epoch)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block, err := m.MineOnce(ctx, time.Now().UTC())
			if err != nil {
				logger.Error(ctx, "mine epoch failed", zap.Error(err))
				continue
			}
			if block != nil {
				logger.Info(ctx, "block sealed",
					zap.Int64("height", block.Height),
					zap.Int("tx_count", block.TxCount),
					zap.String("block_hash", block.BlockHash))
			}
		}
	}
}

// Bootstrap writes the genesis block when the chain is empty. When
// another node holds the leader lease, that node bootstraps instead and
// this call is a no-op.
func (m *Miner) Bootstrap(ctx context.Context) error {
	acquired, release, err := m.acquireLease(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer release()

	tip, err := m.store.TipBlock(ctx)
	if err != nil {
		return err
	}
	if tip != nil {
		return nil
	}
	_, err = m.sealAndCommit(ctx, 0, model.GenesisParentHash, time.Now().UTC(), nil)
	return err
}

// MineOnce seals one block for the epoch ending at now. It returns nil
// without error when another node holds the leader lease. Empty epochs
// still produce a block so the chain height tracks elapsed epochs.
func (m *Miner) MineOnce(ctx context.Context, now time.Time) (*model.Block, error) {
	acquired, release, err := m.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.Debug(ctx, "miner lease held elsewhere", zap.String("node_id", m.nodeID))
		return nil, nil
	}
	defer release()

	tip, err := m.store.TipBlock(ctx)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		// Missed bootstrap: write genesis and seal the epoch in the
		// same pass so pending acceptances are not deferred an epoch.
		tip, err = m.sealAndCommit(ctx, 0, model.GenesisParentHash, now, nil)
		if err != nil {
			return nil, err
		}
	}

	txs, err := m.store.UnminedAccepted(ctx, now)
	if err != nil {
		return nil, err
	}
	return m.sealAndCommit(ctx, tip.Height+1, tip.BlockHash, now, txs)
}

func (m *Miner) acquireLease(ctx context.Context) (bool, func(), error) {
	leaseTTL := m.epoch / 2
	if leaseTTL > time.Minute {
		leaseTTL = time.Minute
	}
	if leaseTTL <= 0 {
		leaseTTL = time.Second
	}
	acquired, err := m.lock.AcquireLock(ctx, leaderLockKey, m.token, leaseTTL)
	if err != nil {
		return false, nil, errors.Wrap(err, errors.LockFailed)
	}
	if !acquired {
		return false, nil, nil
	}
	release := func() {
		_, _ = m.lock.ReleaseLock(ctx, leaderLockKey, m.token)
	}
	return true, release, nil
}

func (m *Miner) sealAndCommit(ctx context.Context, height int64, parentHash string, ts time.Time, txs []model.BlockTx) (*model.Block, error) {
	block, err := SealBlock(height, parentHash, ts, txs, m.anchors)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.CommitBlock(ctx, block, txs); err != nil {
		return nil, err
	}
	return block, nil
}

// SealBlock assembles and hashes a block from its inputs.
func SealBlock(height int64, parentHash string, ts time.Time, txs []model.BlockTx, anchors AnchorProvider) (*model.Block, error) {
	total := 0.0
	for _, tx := range txs {
		total += tx.Points
	}
	block := &model.Block{
		Height:      height,
		ParentHash:  parentHash,
		Timestamp:   ts,
		TxCount:     len(txs),
		TotalPoints: total,
		MinerUserID: SelectMiner(txs),
	}
	if anchors != nil {
		anchor, err := anchors.Anchor(height, ts)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ChainBroken, "anchor for height %d", height)
		}
		block.Anchor = anchor
	}
	block.BlockHash = BlockHash(height, parentHash, ts, txs, block.MinerUserID)
	return block, nil
}
