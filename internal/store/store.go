// Package store persists submissions, problems, users, and the block
// chain, and implements the lease protocol the dispatcher runs on.
package store

import (
	"context"
	"time"

	"chainjudge/internal/model"
)

// FinalizeParams carries everything needed to seal a submission's verdict
// in one transaction.
type FinalizeParams struct {
	SubmissionID string
	Verdict      model.Verdict
	ExecTimeMs   int64
	MemoryKiB    int64
	TestResults  []model.TestResult
	JudgedAt     time.Time
}

// FinalizeOutcome reports what the finalize transaction did.
type FinalizeOutcome struct {
	// Finalized is false when the submission was already terminal:
	// verdicts are write-once and the late writer loses.
	Finalized bool

	// PointsEarned is the decayed snapshot awarded on acceptance.
	PointsEarned float64

	// FirstSolve is true when this acceptance made the user a new
	// distinct solver of the problem.
	FirstSolve bool
}

// SubmissionStore covers the submission queue and verdict lifecycle.
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error)

	// LeaseNext claims the oldest leasable pending submission for
	// workerID and returns it, or nil when the queue is empty. A
	// submission is leasable when it is unclaimed (or its lease
	// expired) and no earlier pending submission exists for the same
	// (user, problem) pair, which keeps per-pair judging FIFO and
	// serialized.
	LeaseNext(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*model.Submission, error)

	// FinalizeVerdict seals the verdict, snapshots points on AC, and
	// updates the solver's aggregates, all in one transaction.
	FinalizeVerdict(ctx context.Context, params FinalizeParams) (FinalizeOutcome, error)

	// SweepExpiredLeases requeues pending submissions whose lease
	// expired, and poisons to IE any that already burned maxAttempts.
	SweepExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration, maxAttempts int) (requeued, poisoned int64, err error)

	// MarkCancelled flags a pending submission for cancellation.
	MarkCancelled(ctx context.Context, submissionID string) error

	// IsCancelled reports the cancellation flag.
	IsCancelled(ctx context.Context, submissionID string) (bool, error)
}

// ProblemStore reads problem rows.
type ProblemStore interface {
	GetProblem(ctx context.Context, problemID string) (*model.Problem, error)
}

// UserStore reads user aggregates.
type UserStore interface {
	GetUser(ctx context.Context, userID int64) (*model.User, error)
}

// ChainStore covers the block ledger.
type ChainStore interface {
	// TipBlock returns the highest block, or nil when the chain is
	// empty (genesis not yet written).
	TipBlock(ctx context.Context) (*model.Block, error)

	// UnminedAccepted returns accepted submissions not yet folded into
	// a block, ordered by submission time then ID.
	UnminedAccepted(ctx context.Context, until time.Time) ([]model.BlockTx, error)

	// CommitBlock inserts the block and stamps its transactions'
	// block_id in one transaction. It fails if any listed submission
	// was already mined.
	CommitBlock(ctx context.Context, block *model.Block, txs []model.BlockTx) (int64, error)

	BlockByHeight(ctx context.Context, height int64) (*model.Block, error)
	BlockByID(ctx context.Context, blockID int64) (*model.Block, error)
	BlocksByHeightRange(ctx context.Context, from, to int64) ([]model.Block, error)
}

// Store is the full persistence surface of the judge core.
type Store interface {
	SubmissionStore
	ProblemStore
	UserStore
	ChainStore

	Ping(ctx context.Context) error
	Close() error
}
