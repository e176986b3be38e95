package model

import "time"

// Submission is one judging job keyed by (user_id, problem_id) for ordering
// purposes. SubmissionID is a UUID assigned at enqueue time.
type Submission struct {
	SubmissionID string     `json:"submission_id"`
	UserID       int64      `json:"user_id"`
	ProblemID    string     `json:"problem_id"`
	SourceCode   string     `json:"source_code"`
	LanguageID   string     `json:"language_id"`
	Verdict      Verdict    `json:"verdict"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	JudgedAt     *time.Time `json:"judged_at,omitempty"`

	// Aggregates over executed tests: max CPU time and max peak memory.
	ExecTimeMs int64 `json:"exec_time_ms"`
	MemoryKiB  int64 `json:"memory_kib"`

	// PointsEarned is the decayed point value snapshotted at acceptance.
	// Zero for any non-AC verdict.
	PointsEarned float64 `json:"points_earned"`

	// BlockID is set once an accepted submission is folded into a block.
	BlockID *int64 `json:"block_id,omitempty"`

	TestResults []TestResult `json:"test_results,omitempty"`

	// Lease bookkeeping for the dispatcher.
	Attempts  int        `json:"attempts"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Cancelled bool       `json:"cancelled"`
}

// TestResult records the outcome of one test case execution.
type TestResult struct {
	Index      int     `json:"index"`
	Verdict    Verdict `json:"verdict"`
	CPUTimeMs  int64   `json:"cpu_time_ms"`
	WallTimeMs int64   `json:"wall_time_ms"`
	MemoryKiB  int64   `json:"memory_kib"`

	// Stdout and Stderr are truncated to the configured caps.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// KillReason is the sandbox kill classification ("", "TO", "WT",
	// "SG", "ML", "XX") that produced the verdict.
	KillReason string `json:"kill_reason,omitempty"`
}
