package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"chainjudge/internal/common/db"
	"chainjudge/internal/model"
	"chainjudge/internal/scoring"
	"chainjudge/pkg/errors"
)

// MySQLStore implements Store over the relational database.
type MySQLStore struct {
	db     db.Database
	scorer scoring.Scorer
}

// NewMySQLStore creates a store. The scorer is consulted inside the
// finalize transaction so the points snapshot and the solver count come
// from the same consistent view.
func NewMySQLStore(database db.Database, scorer scoring.Scorer) *MySQLStore {
	return &MySQLStore{db: database, scorer: scorer}
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const submissionColumns = `submission_id, user_id, problem_id, source_code, language_id, verdict,
	submitted_at, judged_at, exec_time_ms, memory_kib, points_earned, block_id,
	test_results, attempts, claimed_by, claimed_at, cancelled`

func (s *MySQLStore) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.SubmissionID == "" {
		return errors.ValidationError("submission_id", "required")
	}
	if sub.Verdict == "" {
		sub.Verdict = model.VerdictPending
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO submissions (submission_id, user_id, problem_id, source_code, language_id, verdict, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.SubmissionID, sub.UserID, sub.ProblemID, sub.SourceCode, sub.LanguageID, string(sub.Verdict), sub.SubmittedAt)
	if err != nil {
		if db.UniqueViolation(err) {
			return errors.Wrapf(err, errors.InvalidParams, "submission %s already exists", sub.SubmissionID)
		}
		return errors.Wrap(err, errors.DatabaseError)
	}
	return nil
}

func (s *MySQLStore) GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE submission_id = ?`, submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errors.Newf(errors.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return sub, nil
}

// LeaseNext picks lease candidates and claims one with a CAS update. The
// NOT EXISTS clause rejects any submission with an earlier pending
// sibling for the same (user, problem) pair: leased siblings stay
// PENDING until finalized, so this single predicate enforces both FIFO
// order and one-at-a-time judging per pair.
func (s *MySQLStore) LeaseNext(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*model.Submission, error) {
	if workerID == "" {
		return nil, errors.ValidationError("worker_id", "required")
	}
	expiredBefore := now.Add(-leaseTTL)

	rows, err := s.db.Query(ctx, `
		SELECT s.submission_id FROM submissions s
		WHERE s.verdict = 'PENDING'
		  AND (s.claimed_at IS NULL OR s.claimed_at < ?)
		  AND NOT EXISTS (
			SELECT 1 FROM submissions e
			WHERE e.user_id = s.user_id AND e.problem_id = s.problem_id
			  AND e.verdict = 'PENDING'
			  AND (e.submitted_at < s.submitted_at
			       OR (e.submitted_at = s.submitted_at AND e.submission_id < s.submission_id))
		  )
		ORDER BY s.submitted_at, s.submission_id
		LIMIT 8`, expiredBefore)
	if err != nil {
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, errors.DatabaseError)
		}
		candidates = append(candidates, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.DatabaseError)
	}

	for _, id := range candidates {
		res, err := s.db.Exec(ctx, `
			UPDATE submissions SET claimed_by = ?, claimed_at = ?
			WHERE submission_id = ? AND verdict = 'PENDING'
			  AND (claimed_at IS NULL OR claimed_at < ?)`,
			workerID, now, id, expiredBefore)
		if err != nil {
			return nil, errors.Wrap(err, errors.DatabaseError)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, errors.DatabaseError)
		}
		if affected == 1 {
			return s.GetSubmission(ctx, id)
		}
	}
	return nil, nil
}

func (s *MySQLStore) FinalizeVerdict(ctx context.Context, params FinalizeParams) (FinalizeOutcome, error) {
	if params.SubmissionID == "" {
		return FinalizeOutcome{}, errors.ValidationError("submission_id", "required")
	}
	if !params.Verdict.Final() {
		return FinalizeOutcome{}, errors.Newf(errors.InvalidParams, "verdict %q is not terminal", params.Verdict)
	}
	if params.JudgedAt.IsZero() {
		params.JudgedAt = time.Now().UTC()
	}

	var outcome FinalizeOutcome
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		var userID int64
		var problemID string
		row := tx.QueryRow(ctx, `
			SELECT user_id, problem_id FROM submissions
			WHERE submission_id = ? AND verdict = 'PENDING' FOR UPDATE`, params.SubmissionID)
		if err := row.Scan(&userID, &problemID); err != nil {
			if db.IsNoRows(err) {
				// Already terminal: write-once verdicts, late writer loses.
				return nil
			}
			return err
		}

		points := 0.0
		if params.Verdict == model.VerdictAC {
			var base float64
			var solvedCount int64
			row := tx.QueryRow(ctx, `
				SELECT base_points, solved_count FROM problems
				WHERE problem_id = ? FOR UPDATE`, problemID)
			if err := row.Scan(&base, &solvedCount); err != nil {
				return err
			}

			// k counts distinct other solvers; a user's own repeat
			// acceptances never move their own snapshot.
			var otherSolvers int64
			row = tx.QueryRow(ctx, `
				SELECT COUNT(DISTINCT user_id) FROM submissions
				WHERE problem_id = ? AND verdict = 'AC' AND user_id <> ?`, problemID, userID)
			if err := row.Scan(&otherSolvers); err != nil {
				return err
			}

			var priorAC int64
			row = tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM submissions
				WHERE problem_id = ? AND user_id = ? AND verdict = 'AC'`, problemID, userID)
			if err := row.Scan(&priorAC); err != nil {
				return err
			}

			points = s.scorer.Points(base, otherSolvers)
			outcome.PointsEarned = points
			outcome.FirstSolve = priorAC == 0

			if outcome.FirstSolve {
				newSolved := solvedCount + 1
				current := s.scorer.Points(base, newSolved)
				if _, err := tx.Exec(ctx, `
					UPDATE problems SET solved_count = ?, current_points = ?
					WHERE problem_id = ?`, newSolved, current, problemID); err != nil {
					return err
				}
			}

			// Every accepted submission credits its snapshot, keeping
			// the user's score equal to the sum of points_earned over
			// their accepted rows. Only a first solve moves the solver
			// count.
			solvedDelta := 0
			if outcome.FirstSolve {
				solvedDelta = 1
			}
			if _, err := tx.Exec(ctx, `
				UPDATE users SET score = score + ?, problems_solved = problems_solved + ?
				WHERE user_id = ?`, points, solvedDelta, userID); err != nil {
				return err
			}
		}

		testResults, err := json.Marshal(params.TestResults)
		if err != nil {
			return err
		}
		res, err := tx.Exec(ctx, `
			UPDATE submissions
			SET verdict = ?, judged_at = ?, exec_time_ms = ?, memory_kib = ?,
			    points_earned = ?, test_results = ?, claimed_by = NULL, claimed_at = NULL
			WHERE submission_id = ? AND verdict = 'PENDING'`,
			string(params.Verdict), params.JudgedAt, params.ExecTimeMs, params.MemoryKiB,
			points, testResults, params.SubmissionID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		outcome.Finalized = affected == 1
		return nil
	})
	if err != nil {
		if db.IsTransient(err) {
			return FinalizeOutcome{}, errors.Wrap(err, errors.TransactionFailed)
		}
		return FinalizeOutcome{}, errors.Wrap(err, errors.DatabaseError)
	}
	return outcome, nil
}

func (s *MySQLStore) SweepExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration, maxAttempts int) (int64, int64, error) {
	expiredBefore := now.Add(-leaseTTL)
	var requeued, poisoned int64
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		res, err := tx.Exec(ctx, `
			UPDATE submissions
			SET verdict = 'IE', judged_at = ?, claimed_by = NULL, claimed_at = NULL
			WHERE verdict = 'PENDING' AND claimed_at IS NOT NULL AND claimed_at < ?
			  AND attempts + 1 >= ?`,
			now, expiredBefore, maxAttempts)
		if err != nil {
			return err
		}
		if poisoned, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.Exec(ctx, `
			UPDATE submissions
			SET claimed_by = NULL, claimed_at = NULL, attempts = attempts + 1
			WHERE verdict = 'PENDING' AND claimed_at IS NOT NULL AND claimed_at < ?`,
			expiredBefore)
		if err != nil {
			return err
		}
		if requeued, err = res.RowsAffected(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.DatabaseError)
	}
	return requeued, poisoned, nil
}

func (s *MySQLStore) MarkCancelled(ctx context.Context, submissionID string) error {
	res, err := s.db.Exec(ctx, `
		UPDATE submissions SET cancelled = 1
		WHERE submission_id = ? AND verdict = 'PENDING'`, submissionID)
	if err != nil {
		return errors.Wrap(err, errors.DatabaseError)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.DatabaseError)
	}
	if affected == 0 {
		return errors.Newf(errors.SubmissionJudged, "submission %s is not pending", submissionID)
	}
	return nil
}

func (s *MySQLStore) IsCancelled(ctx context.Context, submissionID string) (bool, error) {
	row := s.db.QueryRow(ctx, `SELECT cancelled FROM submissions WHERE submission_id = ?`, submissionID)
	var cancelled bool
	if err := row.Scan(&cancelled); err != nil {
		if db.IsNoRows(err) {
			return false, errors.Newf(errors.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return false, errors.Wrap(err, errors.DatabaseError)
	}
	return cancelled, nil
}

func (s *MySQLStore) GetProblem(ctx context.Context, problemID string) (*model.Problem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT problem_id, title, status, difficulty, base_points, current_points, solved_count,
		       time_limit_ms, memory_limit_kib, stdout_cap_bytes, data_path, checker, languages_allowed
		FROM problems WHERE problem_id = ?`, problemID)

	var p model.Problem
	var langs sql.NullString
	err := row.Scan(&p.ProblemID, &p.Title, &p.Status, &p.Difficulty, &p.BasePoints, &p.CurrentPoints,
		&p.SolvedCount, &p.TimeLimitMs, &p.MemoryLimitKiB, &p.StdoutCapBytes, &p.DataPath, &p.Checker, &langs)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errors.Newf(errors.ProblemNotFound, "problem %s not found", problemID)
		}
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	if langs.Valid && langs.String != "" {
		p.LanguagesAllowed = strings.Split(langs.String, ",")
	}
	return &p, nil
}

func (s *MySQLStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, username, score, problems_solved, blocks_mined
		FROM users WHERE user_id = ?`, userID)
	var u model.User
	if err := row.Scan(&u.UserID, &u.Username, &u.Score, &u.ProblemsSolved, &u.BlocksMined); err != nil {
		if db.IsNoRows(err) {
			return nil, errors.Newf(errors.RecordNotFound, "user %d not found", userID)
		}
		return nil, errors.Wrap(err, errors.DatabaseError)
	}
	return &u, nil
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	var sub model.Submission
	var verdict string
	var judgedAt, claimedAt sql.NullTime
	var blockID sql.NullInt64
	var claimedBy sql.NullString
	var testResults []byte

	err := row.Scan(&sub.SubmissionID, &sub.UserID, &sub.ProblemID, &sub.SourceCode, &sub.LanguageID,
		&verdict, &sub.SubmittedAt, &judgedAt, &sub.ExecTimeMs, &sub.MemoryKiB, &sub.PointsEarned,
		&blockID, &testResults, &sub.Attempts, &claimedBy, &claimedAt, &sub.Cancelled)
	if err != nil {
		return nil, err
	}
	sub.Verdict = model.Verdict(verdict)
	if judgedAt.Valid {
		t := judgedAt.Time
		sub.JudgedAt = &t
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		sub.ClaimedAt = &t
	}
	if blockID.Valid {
		id := blockID.Int64
		sub.BlockID = &id
	}
	if claimedBy.Valid {
		sub.ClaimedBy = claimedBy.String
	}
	if len(testResults) > 0 {
		if err := json.Unmarshal(testResults, &sub.TestResults); err != nil {
			return nil, err
		}
	}
	return &sub, nil
}
