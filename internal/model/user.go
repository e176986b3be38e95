package model

// User carries the scoring-relevant view of a user row. Score accumulates
// points snapshotted at acceptance time and is never rewritten by later
// decay.
type User struct {
	UserID         int64   `json:"user_id"`
	Username       string  `json:"username"`
	Score          float64 `json:"score"`
	ProblemsSolved int64   `json:"problems_solved"`
	BlocksMined    int64   `json:"blocks_mined"`
}
