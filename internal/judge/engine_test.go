package judge_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chainjudge/internal/judge"
	"chainjudge/internal/model"
	"chainjudge/internal/sandbox/boxpool"
	"chainjudge/internal/sandbox/result"
	"chainjudge/internal/sandbox/spec"
	"chainjudge/internal/store"
	"chainjudge/pkg/errors"
)

// fakeExecutor scripts sandbox runs without any real isolation.
type fakeExecutor struct {
	boxDir string
	script func(rs spec.RunSpec) (result.RunResult, error)
	runs   []spec.RunSpec
	killed []string
}

func (f *fakeExecutor) Lease(ctx context.Context, fn func(box *boxpool.Box) error) error {
	return fn(&boxpool.Box{ID: 0, Dir: f.boxDir})
}

func (f *fakeExecutor) Run(ctx context.Context, rs spec.RunSpec) (result.RunResult, error) {
	f.runs = append(f.runs, rs)
	return f.script(rs)
}

func (f *fakeExecutor) Kill(ctx context.Context, submissionID string) error {
	f.killed = append(f.killed, submissionID)
	return nil
}

// fakeStore serves one problem and records the finalize call.
type fakeStore struct {
	problem    *model.Problem
	problemErr error
	cancelled  bool
	finalized  []store.FinalizeParams
}

func (f *fakeStore) InsertSubmission(ctx context.Context, sub *model.Submission) error { return nil }

func (f *fakeStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	return nil, errors.New(errors.SubmissionNotFound)
}

func (f *fakeStore) LeaseNext(ctx context.Context, workerID string, now time.Time, ttl time.Duration) (*model.Submission, error) {
	return nil, nil
}

func (f *fakeStore) FinalizeVerdict(ctx context.Context, params store.FinalizeParams) (store.FinalizeOutcome, error) {
	f.finalized = append(f.finalized, params)
	return store.FinalizeOutcome{Finalized: true}, nil
}

func (f *fakeStore) SweepExpiredLeases(ctx context.Context, now time.Time, ttl time.Duration, maxAttempts int) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) MarkCancelled(ctx context.Context, id string) error { return nil }

func (f *fakeStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	return f.cancelled, nil
}

func (f *fakeStore) GetProblem(ctx context.Context, id string) (*model.Problem, error) {
	if f.problemErr != nil {
		return nil, f.problemErr
	}
	return f.problem, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return nil, errors.New(errors.RecordNotFound)
}

func (f *fakeStore) TipBlock(ctx context.Context) (*model.Block, error) { return nil, nil }

func (f *fakeStore) UnminedAccepted(ctx context.Context, until time.Time) ([]model.BlockTx, error) {
	return nil, nil
}

func (f *fakeStore) CommitBlock(ctx context.Context, block *model.Block, txs []model.BlockTx) (int64, error) {
	return 0, nil
}

func (f *fakeStore) BlockByHeight(ctx context.Context, height int64) (*model.Block, error) {
	return nil, errors.New(errors.RecordNotFound)
}

func (f *fakeStore) BlockByID(ctx context.Context, blockID int64) (*model.Block, error) {
	return nil, errors.New(errors.RecordNotFound)
}

func (f *fakeStore) BlocksByHeightRange(ctx context.Context, from, to int64) ([]model.Block, error) {
	return nil, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

type fakePacks struct {
	dir      string
	err      error
	released int
}

func (f *fakePacks) Get(ctx context.Context, problemID, dataPath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.dir, nil
}

func (f *fakePacks) Release(problemID string) { f.released++ }

// writePack lays out a pack directory with n tests answering "42".
func writePack(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	manifest := "id: p-sum\nbase_points: 1000\ntests:\n"
	for i := 1; i <= n; i++ {
		in := fmt.Sprintf("%d.in", i)
		out := fmt.Sprintf("%d.out", i)
		manifest += fmt.Sprintf("  - in: %s\n    out: %s\n", in, out)
		mustWrite(t, filepath.Join(dir, in), "40 2\n")
		mustWrite(t, filepath.Join(dir, out), "42\n")
	}
	mustWrite(t, filepath.Join(dir, "problem.yml"), manifest)
	return dir
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func approvedProblem() *model.Problem {
	return &model.Problem{
		ProblemID:      "p-sum",
		Status:         model.ProblemStatusApproved,
		BasePoints:     1000,
		TimeLimitMs:    1000,
		MemoryLimitKiB: 262144,
		StdoutCapBytes: 1 << 20,
		Checker:        model.CheckerDiff,
	}
}

func pendingSubmission(lang string) *model.Submission {
	return &model.Submission{
		SubmissionID: "sub-1",
		UserID:       7,
		ProblemID:    "p-sum",
		SourceCode:   "print(sum(map(int, input().split())))",
		LanguageID:   lang,
		Verdict:      model.VerdictPending,
		SubmittedAt:  time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T, st *fakeStore, packDir string, script func(rs spec.RunSpec) (result.RunResult, error)) (*judge.Engine, *fakeExecutor) {
	t.Helper()
	exec := &fakeExecutor{boxDir: t.TempDir(), script: script}
	eng := judge.NewEngine(judge.Config{}, exec, st, &fakePacks{dir: packDir}, nil)
	return eng, exec
}

func echoAnswer(rs spec.RunSpec) (result.RunResult, error) {
	if rs.StdoutPath != "" {
		if err := os.WriteFile(rs.StdoutPath, []byte("42\n"), 0644); err != nil {
			return result.RunResult{}, err
		}
	}
	return result.RunResult{CPUTimeMs: 12, WallTimeMs: 20, PeakMemoryKiB: 2048}, nil
}

func TestJudgeAccepted(t *testing.T) {
	st := &fakeStore{problem: approvedProblem()}
	eng, exec := newTestEngine(t, st, writePack(t, 2), func(rs spec.RunSpec) (result.RunResult, error) {
		res, err := echoAnswer(rs)
		if err != nil {
			return res, err
		}
		// Second test reports the peak usage.
		if rs.TestID == "test-2" {
			res.CPUTimeMs = 30
			res.PeakMemoryKiB = 4096
		}
		return res, nil
	})

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if len(st.finalized) != 1 {
		t.Fatalf("expected one finalize call, got %d", len(st.finalized))
	}
	got := st.finalized[0]
	if got.Verdict != model.VerdictAC {
		t.Fatalf("expected AC, got %s", got.Verdict)
	}
	if len(got.TestResults) != 2 {
		t.Fatalf("expected 2 test results, got %d", len(got.TestResults))
	}
	if got.ExecTimeMs != 30 {
		t.Fatalf("expected max cpu 30, got %d", got.ExecTimeMs)
	}
	if got.MemoryKiB != 4096 {
		t.Fatalf("expected max memory 4096, got %d", got.MemoryKiB)
	}
	if len(exec.runs) != 2 {
		t.Fatalf("expected 2 sandbox runs, got %d", len(exec.runs))
	}
	// The source must be staged into the box before any run.
	if _, err := os.Stat(filepath.Join(exec.boxDir, "main.py")); err != nil {
		t.Fatalf("source not staged: %v", err)
	}
}

func TestJudgeWrongAnswerShortCircuits(t *testing.T) {
	st := &fakeStore{problem: approvedProblem()}
	eng, exec := newTestEngine(t, st, writePack(t, 3), func(rs spec.RunSpec) (result.RunResult, error) {
		if rs.StdoutPath != "" {
			mustWriteRun(rs.StdoutPath, "41\n")
		}
		return result.RunResult{CPUTimeMs: 5}, nil
	})

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	got := st.finalized[0]
	if got.Verdict != model.VerdictWA {
		t.Fatalf("expected WA, got %s", got.Verdict)
	}
	if len(got.TestResults) != 1 {
		t.Fatalf("later tests must not run after a failure, got %d results", len(got.TestResults))
	}
	if len(exec.runs) != 1 {
		t.Fatalf("expected 1 sandbox run, got %d", len(exec.runs))
	}
}

func TestJudgeCompileError(t *testing.T) {
	st := &fakeStore{problem: approvedProblem()}
	eng, exec := newTestEngine(t, st, writePack(t, 2), func(rs spec.RunSpec) (result.RunResult, error) {
		if rs.TestID == "compile" {
			return result.RunResult{ExitCode: 1, Stderr: "main.cpp:1: error: expected ';'"}, nil
		}
		t.Fatalf("unexpected run after failed compile: %s", rs.TestID)
		return result.RunResult{}, nil
	})

	sub := pendingSubmission("cpp")
	if err := eng.Judge(context.Background(), sub); err != nil {
		t.Fatalf("judge: %v", err)
	}
	got := st.finalized[0]
	if got.Verdict != model.VerdictCE {
		t.Fatalf("expected CE, got %s", got.Verdict)
	}
	if len(got.TestResults) != 1 || got.TestResults[0].Stderr == "" {
		t.Fatal("compile diagnostics must be preserved")
	}
	if len(exec.runs) != 1 {
		t.Fatalf("expected only the compile run, got %d", len(exec.runs))
	}
}

func TestJudgeTimeLimit(t *testing.T) {
	st := &fakeStore{problem: approvedProblem()}
	eng, _ := newTestEngine(t, st, writePack(t, 2), func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{CPUTimeMs: 3500, KillReason: result.KillCPUTime}, nil
	})

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	got := st.finalized[0]
	if got.Verdict != model.VerdictTLE {
		t.Fatalf("expected TLE, got %s", got.Verdict)
	}
	if got.TestResults[0].KillReason != string(result.KillCPUTime) {
		t.Fatalf("expected TO kill reason, got %q", got.TestResults[0].KillReason)
	}
}

func TestJudgeMemoryLimit(t *testing.T) {
	st := &fakeStore{problem: approvedProblem()}
	eng, _ := newTestEngine(t, st, writePack(t, 2), func(rs spec.RunSpec) (result.RunResult, error) {
		return result.RunResult{PeakMemoryKiB: 300000, KillReason: result.KillMemory}, nil
	})

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	got := st.finalized[0]
	if got.Verdict != model.VerdictMLE {
		t.Fatalf("expected MLE, got %s", got.Verdict)
	}
	if got.TestResults[0].KillReason != string(result.KillMemory) {
		t.Fatalf("expected ML kill reason, got %q", got.TestResults[0].KillReason)
	}
	if got.MemoryKiB != 300000 {
		t.Fatalf("expected peak memory 300000, got %d", got.MemoryKiB)
	}
}

func TestJudgeUnapprovedProblem(t *testing.T) {
	problem := approvedProblem()
	problem.Status = model.ProblemStatusDraft
	st := &fakeStore{problem: problem}
	eng, exec := newTestEngine(t, st, writePack(t, 1), echoAnswer)

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if st.finalized[0].Verdict != model.VerdictIE {
		t.Fatalf("expected IE, got %s", st.finalized[0].Verdict)
	}
	if len(exec.runs) != 0 {
		t.Fatal("sandbox must not run for an unapproved problem")
	}
}

func TestJudgeUnknownLanguage(t *testing.T) {
	st := &fakeStore{problem: approvedProblem()}
	eng, _ := newTestEngine(t, st, writePack(t, 1), echoAnswer)

	if err := eng.Judge(context.Background(), pendingSubmission("cobol")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if st.finalized[0].Verdict != model.VerdictIE {
		t.Fatalf("expected IE, got %s", st.finalized[0].Verdict)
	}
}

func TestJudgeDisallowedLanguage(t *testing.T) {
	problem := approvedProblem()
	problem.LanguagesAllowed = []string{"cpp"}
	st := &fakeStore{problem: problem}
	eng, _ := newTestEngine(t, st, writePack(t, 1), echoAnswer)

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if st.finalized[0].Verdict != model.VerdictIE {
		t.Fatalf("expected IE, got %s", st.finalized[0].Verdict)
	}
}

func TestJudgeProblemNotFound(t *testing.T) {
	st := &fakeStore{problemErr: errors.New(errors.ProblemNotFound)}
	eng, _ := newTestEngine(t, st, writePack(t, 1), echoAnswer)

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if st.finalized[0].Verdict != model.VerdictIE {
		t.Fatalf("expected IE, got %s", st.finalized[0].Verdict)
	}
}

func TestJudgeTransientStoreError(t *testing.T) {
	st := &fakeStore{problemErr: errors.New(errors.DatabaseError)}
	eng, _ := newTestEngine(t, st, writePack(t, 1), echoAnswer)

	err := eng.Judge(context.Background(), pendingSubmission("python"))
	if !errors.Is(err, errors.DatabaseError) {
		t.Fatalf("expected DatabaseError to propagate, got %v", err)
	}
	if len(st.finalized) != 0 {
		t.Fatal("transient failures must leave the submission leased, not finalized")
	}
}

func TestJudgeCancelledMidway(t *testing.T) {
	st := &fakeStore{problem: approvedProblem(), cancelled: true}
	eng, exec := newTestEngine(t, st, writePack(t, 2), echoAnswer)

	sub := pendingSubmission("python")
	if err := eng.Judge(context.Background(), sub); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if st.finalized[0].Verdict != model.VerdictIE {
		t.Fatalf("expected IE for cancelled submission, got %s", st.finalized[0].Verdict)
	}
	if len(exec.killed) != 1 || exec.killed[0] != sub.SubmissionID {
		t.Fatalf("expected kill for %s, got %v", sub.SubmissionID, exec.killed)
	}
}

func TestJudgeNumericChecker(t *testing.T) {
	problem := approvedProblem()
	problem.Checker = model.CheckerNumeric

	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "1.in"), "\n")
	mustWrite(t, filepath.Join(dir, "1.out"), "3.141592653\n")
	mustWrite(t, filepath.Join(dir, "problem.yml"),
		"id: p-sum\nepsilon: 0.001\ntests:\n  - in: 1.in\n    out: 1.out\n")

	st := &fakeStore{problem: problem}
	eng, _ := newTestEngine(t, st, dir, func(rs spec.RunSpec) (result.RunResult, error) {
		mustWriteRun(rs.StdoutPath, "3.1415\n")
		return result.RunResult{}, nil
	})

	if err := eng.Judge(context.Background(), pendingSubmission("python")); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if st.finalized[0].Verdict != model.VerdictAC {
		t.Fatalf("expected AC within epsilon, got %s", st.finalized[0].Verdict)
	}
}

func mustWriteRun(path, content string) {
	_ = os.WriteFile(path, []byte(content), 0644)
}
