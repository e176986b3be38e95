package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"chainjudge/internal/common/db"
	"chainjudge/internal/model"
	"chainjudge/pkg/errors"
)

const blockColumns = `block_id, height, block_hash, parent_hash, timestamp, tx_count, total_points, miner_user_id, anchor`

func (s *MySQLStore) TipBlock(ctx context.Context) (*model.Block, error) {
	row := s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY height DESC LIMIT 1`)
	block, err := scanBlock(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return block, nil
}

func (s *MySQLStore) UnminedAccepted(ctx context.Context, until time.Time) ([]model.BlockTx, error) {
	rows, err := s.db.Query(ctx, `
		SELECT submission_id, user_id, problem_id, points_earned
		FROM submissions
		WHERE verdict = 'AC' AND block_id IS NULL AND judged_at <= ?
		ORDER BY submitted_at, submission_id`, until)
	if err != nil {
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	defer rows.Close()

	var txs []model.BlockTx
	for rows.Next() {
		var tx model.BlockTx
		if err := rows.Scan(&tx.SubmissionID, &tx.UserID, &tx.ProblemID, &tx.Points); err != nil {
			return nil, errors.Wrap(err, errors.DatabaseError)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return txs, nil
}

func (s *MySQLStore) CommitBlock(ctx context.Context, block *model.Block, txs []model.BlockTx) (int64, error) {
	if block == nil {
		return 0, errors.ValidationError("block", "required")
	}
	var blockID int64
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		res, err := tx.Exec(ctx, `
			INSERT INTO blocks (height, block_hash, parent_hash, timestamp, tx_count, total_points, miner_user_id, anchor)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			block.Height, block.BlockHash, block.ParentHash, block.Timestamp,
			block.TxCount, block.TotalPoints, nullableInt64(block.MinerUserID), []byte(block.Anchor))
		if err != nil {
			if db.UniqueViolation(err) {
				return errors.Newf(errors.BlockCommitFailed, "block at height %d already exists", block.Height)
			}
			return err
		}
		blockID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, t := range txs {
			res, err := tx.Exec(ctx, `
				UPDATE submissions SET block_id = ?
				WHERE submission_id = ? AND verdict = 'AC' AND block_id IS NULL`,
				blockID, t.SubmissionID)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected != 1 {
				return errors.Newf(errors.BlockCommitFailed,
					"submission %s already mined or not accepted", t.SubmissionID)
			}
		}

		if block.MinerUserID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE users SET blocks_mined = blocks_mined + 1
				WHERE user_id = ?`, *block.MinerUserID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.BlockCommitFailed) {
			return 0, err
		}
		return 0, errors.Wrap(err, errors.DatabaseError)
	}
	block.BlockID = blockID
	return blockID, nil
}

func (s *MySQLStore) BlockByHeight(ctx context.Context, height int64) (*model.Block, error) {
	row := s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE height = ?`, height)
	block, err := scanBlock(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errors.Newf(errors.RecordNotFound, "block at height %d not found", height)
		}
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return block, nil
}

func (s *MySQLStore) BlockByID(ctx context.Context, blockID int64) (*model.Block, error) {
	row := s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE block_id = ?`, blockID)
	block, err := scanBlock(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errors.Newf(errors.RecordNotFound, "block %d not found", blockID)
		}
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return block, nil
}

func (s *MySQLStore) BlocksByHeightRange(ctx context.Context, from, to int64) ([]model.Block, error) {
	if to < from {
		return nil, errors.Newf(errors.InvalidParams, "invalid height range [%d, %d]", from, to)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE height >= ? AND height <= ?
		ORDER BY height`, from, to)
	if err != nil {
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.DatabaseError)
		}
		blocks = append(blocks, *block)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return blocks, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row scanner) (*model.Block, error) {
	var b model.Block
	var miner sql.NullInt64
	var anchor []byte
	err := row.Scan(&b.BlockID, &b.Height, &b.BlockHash, &b.ParentHash, &b.Timestamp,
		&b.TxCount, &b.TotalPoints, &miner, &anchor)
	if err != nil {
		return nil, err
	}
	if miner.Valid {
		id := miner.Int64
		b.MinerUserID = &id
	}
	if len(anchor) > 0 {
		b.Anchor = json.RawMessage(anchor)
	}
	return &b, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
