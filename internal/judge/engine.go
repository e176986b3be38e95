// Package judge runs the verdict pipeline: resolve the problem, stage
// the workspace, compile, execute every test under the sandbox, compare
// output, and seal the verdict.
package judge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"chainjudge/internal/common/mq"
	"chainjudge/internal/judge/comparator"
	"chainjudge/internal/language"
	"chainjudge/internal/model"
	"chainjudge/internal/sandbox/boxpool"
	"chainjudge/internal/sandbox/result"
	"chainjudge/internal/sandbox/spec"
	"chainjudge/internal/store"
	"chainjudge/pkg/errors"
	"chainjudge/pkg/utils/logger"
)

const (
	stdoutFileName = "stdout.txt"
	stderrFileName = "stderr.txt"
	stdinFileName  = "stdin.txt"

	// watchdogSlack scales the summed wall caps into the hard ceiling
	// for one whole submission.
	watchdogSlack = 3

	stderrTailBytes = 8 * 1024
)

// Executor abstracts the sandbox so the pipeline can be tested against
// fakes.
type Executor interface {
	Lease(ctx context.Context, fn func(box *boxpool.Box) error) error
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	Kill(ctx context.Context, submissionID string) error
}

// PackResolver materializes a problem's test data pack locally. Get
// pins the pack against eviction; callers must pair it with Release.
type PackResolver interface {
	Get(ctx context.Context, problemID, dataPath string) (string, error)
	Release(problemID string)
}

// Config tunes the judge engine.
type Config struct {
	RunProfile     string `yaml:"runProfile"`
	CompileProfile string `yaml:"compileProfile"`
	StatusTopic    string `yaml:"statusTopic"`
}

// Engine judges leased submissions end to end.
type Engine struct {
	cfg    Config
	exec   Executor
	store  store.Store
	packs  PackResolver
	events mq.Producer
}

// StatusEvent is published after every finalized verdict.
type StatusEvent struct {
	SubmissionID string  `json:"submission_id"`
	UserID       int64   `json:"user_id"`
	ProblemID    string  `json:"problem_id"`
	Verdict      string  `json:"verdict"`
	PointsEarned float64 `json:"points_earned"`
	ExecTimeMs   int64   `json:"exec_time_ms"`
	MemoryKiB    int64   `json:"memory_kib"`
	JudgedAt     int64   `json:"judged_at"`
}

// NewEngine creates a judge engine. events may be nil to disable status
// publication.
func NewEngine(cfg Config, exec Executor, st store.Store, packs PackResolver, events mq.Producer) *Engine {
	if cfg.RunProfile == "" {
		cfg.RunProfile = "run"
	}
	if cfg.CompileProfile == "" {
		cfg.CompileProfile = "compile"
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = "judge.status"
	}
	return &Engine{cfg: cfg, exec: exec, store: st, packs: packs, events: events}
}

// Judge runs the full pipeline for one leased submission. Content
// problems (missing data, bad manifest, unapproved problem) finalize the
// submission as IE and return nil; infrastructure failures return an
// error and leave the lease to expire so the reaper can retry.
func (e *Engine) Judge(ctx context.Context, sub *model.Submission) error {
	problem, err := e.store.GetProblem(ctx, sub.ProblemID)
	if err != nil {
		if errors.Is(err, errors.ProblemNotFound) {
			return e.finalizeInternal(ctx, sub, nil)
		}
		return err
	}
	if !problem.Approved() {
		logger.Warn(ctx, "submission targets unapproved problem",
			zap.String("problem_id", problem.ProblemID), zap.String("status", problem.Status))
		return e.finalizeInternal(ctx, sub, nil)
	}

	lang, ok := language.Lookup(sub.LanguageID)
	if !ok || !problem.AllowsLanguage(sub.LanguageID) {
		logger.Warn(ctx, "unsupported language for submission", zap.String("language_id", sub.LanguageID))
		return e.finalizeInternal(ctx, sub, nil)
	}

	packDir, err := e.packs.Get(ctx, problem.ProblemID, problem.DataPath)
	if err != nil {
		if contentError(err) {
			return e.finalizeInternal(ctx, sub, nil)
		}
		return err
	}
	defer e.packs.Release(problem.ProblemID)

	manifest, err := LoadManifest(packDir)
	if err != nil {
		if contentError(err) {
			return e.finalizeInternal(ctx, sub, nil)
		}
		return err
	}

	// The problem row is authoritative for limits; the pack manifest
	// fills any gaps.
	timeLimit := problem.TimeLimitMs
	if timeLimit <= 0 {
		timeLimit = manifest.TimeLimitMs
	}
	memLimit := problem.MemoryLimitKiB
	if memLimit <= 0 {
		memLimit = manifest.MemoryLimitKiB
	}
	stdoutCap := problem.StdoutCapBytes
	if stdoutCap <= 0 {
		stdoutCap = manifest.StdoutCapBytes
	}
	baseLimits := spec.ResourceLimit{
		CPUTimeMs:        timeLimit,
		MemoryKiB:        memLimit,
		StdoutCapBytes:   stdoutCap,
		FileSizeCapBytes: 2 * stdoutCap,
	}
	runLimits := lang.RunLimits(baseLimits)
	compileLimits := lang.CompileLimits(baseLimits)

	// The watchdog bounds a whole submission: no single stuck run may
	// pin a worker past a few multiples of the theoretical maximum.
	budget := compileLimits.WallTimeMs
	budget += int64(len(manifest.Tests)) * runLimits.WallTimeMs
	watchCtx, cancel := context.WithTimeout(ctx, time.Duration(watchdogSlack*budget)*time.Millisecond)
	defer cancel()

	var params store.FinalizeParams
	err = e.exec.Lease(watchCtx, func(box *boxpool.Box) error {
		p, err := e.judgeInBox(watchCtx, sub, problem, lang, manifest, packDir, box, runLimits, compileLimits)
		if err != nil {
			return err
		}
		params = p
		return nil
	})
	if err != nil {
		if watchCtx.Err() != nil {
			logger.Error(ctx, "judge watchdog expired", zap.String("submission_id", sub.SubmissionID))
			return e.finalizeInternal(ctx, sub, nil)
		}
		if contentError(err) {
			return e.finalizeInternal(ctx, sub, nil)
		}
		return err
	}

	return e.finalize(ctx, sub, params)
}

func (e *Engine) judgeInBox(ctx context.Context, sub *model.Submission, problem *model.Problem,
	lang language.Spec, manifest Manifest, packDir string, box *boxpool.Box,
	runLimits, compileLimits spec.ResourceLimit) (store.FinalizeParams, error) {

	params := store.FinalizeParams{
		SubmissionID: sub.SubmissionID,
		JudgedAt:     time.Now().UTC(),
	}

	sourcePath := filepath.Join(box.Dir, lang.SourceFile)
	if err := os.WriteFile(sourcePath, []byte(sub.SourceCode), 0644); err != nil {
		return params, errors.Wrap(err, errors.JudgeSystemError)
	}

	if lang.CompileEnabled {
		verdict, stderrTail, err := e.compile(ctx, sub, lang, box, compileLimits)
		if err != nil {
			return params, err
		}
		if verdict != model.VerdictAC {
			params.Verdict = verdict
			params.TestResults = []model.TestResult{{
				Index:   0,
				Verdict: verdict,
				Stderr:  stderrTail,
			}}
			return params, nil
		}
	}

	checkerMode := problem.Checker
	if manifest.Checker != "" {
		checkerMode = model.CheckerCustom
	}

	params.Verdict = model.VerdictAC
	for i, test := range manifest.Tests {
		cancelled, err := e.store.IsCancelled(ctx, sub.SubmissionID)
		if err == nil && cancelled {
			_ = e.exec.Kill(ctx, sub.SubmissionID)
			logger.Info(ctx, "submission cancelled mid-judge", zap.String("submission_id", sub.SubmissionID))
			params.Verdict = model.VerdictIE
			return params, nil
		}

		tr, err := e.runTest(ctx, sub, lang, manifest, packDir, box, i+1, test, runLimits, checkerMode)
		if err != nil {
			return params, err
		}
		params.TestResults = append(params.TestResults, tr)
		if tr.CPUTimeMs > params.ExecTimeMs {
			params.ExecTimeMs = tr.CPUTimeMs
		}
		if tr.MemoryKiB > params.MemoryKiB {
			params.MemoryKiB = tr.MemoryKiB
		}
		// First failing test decides the verdict; later tests never run.
		if tr.Verdict != model.VerdictAC {
			params.Verdict = tr.Verdict
			break
		}
	}
	params.JudgedAt = time.Now().UTC()
	return params, nil
}

func (e *Engine) compile(ctx context.Context, sub *model.Submission, lang language.Spec,
	box *boxpool.Box, limits spec.ResourceLimit) (model.Verdict, string, error) {

	cmd, err := lang.CompileCommand(box.Dir)
	if err != nil {
		return model.VerdictIE, "", err
	}
	runRes, err := e.exec.Run(ctx, spec.RunSpec{
		SubmissionID: sub.SubmissionID,
		TestID:       "compile",
		WorkDir:      box.Dir,
		Cmd:          cmd,
		Env:          lang.Env,
		StderrPath:   filepath.Join(box.Dir, stderrFileName),
		Profile:      e.cfg.CompileProfile,
		Limits:       limits,
	})
	if err != nil {
		return model.VerdictIE, "", errors.Wrap(err, errors.JudgeSystemError)
	}
	if runRes.KillReason == result.KillSandboxErr {
		return model.VerdictIE, "", nil
	}
	if !runRes.Clean() {
		return model.VerdictCE, tail(runRes.Stderr, stderrTailBytes), nil
	}
	return model.VerdictAC, "", nil
}

func (e *Engine) runTest(ctx context.Context, sub *model.Submission, lang language.Spec,
	manifest Manifest, packDir string, box *boxpool.Box, index int, test TestFile,
	limits spec.ResourceLimit, checkerMode string) (model.TestResult, error) {

	tr := model.TestResult{Index: index}

	inputPath, answerPath, err := manifest.TestPaths(packDir, test)
	if err != nil {
		return tr, err
	}

	cmd, err := lang.RunCommand(box.Dir)
	if err != nil {
		return tr, err
	}

	stdoutPath := filepath.Join(box.Dir, stdoutFileName)
	stderrPath := filepath.Join(box.Dir, stderrFileName)
	runRes, err := e.exec.Run(ctx, spec.RunSpec{
		SubmissionID: sub.SubmissionID,
		TestID:       "test-" + strconv.Itoa(index),
		WorkDir:      box.Dir,
		Cmd:          cmd,
		Env:          lang.Env,
		StdinPath:    inputPath,
		StdoutPath:   stdoutPath,
		StderrPath:   stderrPath,
		Profile:      e.cfg.RunProfile,
		Limits:       limits,
	})
	if err != nil {
		return tr, errors.Wrap(err, errors.JudgeSystemError)
	}

	tr.CPUTimeMs = runRes.CPUTimeMs
	tr.WallTimeMs = runRes.WallTimeMs
	tr.MemoryKiB = runRes.PeakMemoryKiB
	tr.Stdout = runRes.Stdout
	tr.Stderr = runRes.Stderr
	tr.KillReason = string(runRes.KillReason)

	tr.Verdict = language.VerdictFor(runRes)
	if tr.Verdict != model.VerdictAC {
		return tr, nil
	}

	accepted, err := e.compare(ctx, sub, manifest, packDir, box, checkerMode, inputPath, stdoutPath, answerPath, limits)
	if err != nil {
		return tr, err
	}
	if !accepted {
		tr.Verdict = model.VerdictWA
	}
	return tr, nil
}

func (e *Engine) compare(ctx context.Context, sub *model.Submission, manifest Manifest, packDir string,
	box *boxpool.Box, mode, inputPath, stdoutPath, answerPath string, limits spec.ResourceLimit) (bool, error) {

	if mode == model.CheckerCustom {
		return e.runChecker(ctx, sub, manifest, packDir, box, inputPath, stdoutPath, answerPath, limits)
	}

	actual, err := os.ReadFile(stdoutPath)
	if err != nil {
		if os.IsNotExist(err) {
			actual = nil
		} else {
			return false, errors.Wrap(err, errors.JudgeSystemError)
		}
	}
	expected, err := os.ReadFile(answerPath)
	if err != nil {
		return false, errors.Wrap(err, errors.TestDataMissing)
	}

	if mode == model.CheckerNumeric {
		return comparator.NumericEqual(string(expected), string(actual), manifest.Epsilon), nil
	}
	return comparator.Equal(string(expected), string(actual)), nil
}

// runChecker executes the pack's checker program under the sandbox with
// the arguments (input, expected, actual). Exit zero accepts.
func (e *Engine) runChecker(ctx context.Context, sub *model.Submission, manifest Manifest, packDir string,
	box *boxpool.Box, inputPath, stdoutPath, answerPath string, limits spec.ResourceLimit) (bool, error) {

	checkerPath, err := packPath(packDir, manifest.Checker)
	if err != nil {
		return false, err
	}
	runRes, err := e.exec.Run(ctx, spec.RunSpec{
		SubmissionID: sub.SubmissionID,
		TestID:       "checker",
		WorkDir:      box.Dir,
		Cmd:          []string{checkerPath, inputPath, answerPath, stdoutPath},
		StderrPath:   filepath.Join(box.Dir, stderrFileName),
		Profile:      e.cfg.RunProfile,
		Limits:       limits,
	})
	if err != nil {
		return false, errors.Wrap(err, errors.JudgeSystemError)
	}
	if runRes.KillReason != result.KillNone {
		return false, errors.Newf(errors.JudgeSystemError, "checker killed: %s", runRes.KillReason)
	}
	return runRes.ExitCode == 0, nil
}

// finalizeInternal seals the submission as IE without scoring it.
func (e *Engine) finalizeInternal(ctx context.Context, sub *model.Submission, results []model.TestResult) error {
	return e.finalize(ctx, sub, store.FinalizeParams{
		SubmissionID: sub.SubmissionID,
		Verdict:      model.VerdictIE,
		TestResults:  results,
		JudgedAt:     time.Now().UTC(),
	})
}

func (e *Engine) finalize(ctx context.Context, sub *model.Submission, params store.FinalizeParams) error {
	outcome, err := e.store.FinalizeVerdict(ctx, params)
	if err != nil {
		return err
	}
	if !outcome.Finalized {
		logger.Warn(ctx, "submission already finalized", zap.String("submission_id", sub.SubmissionID))
		return nil
	}

	logger.Info(ctx, "submission judged",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("verdict", string(params.Verdict)),
		zap.Float64("points", outcome.PointsEarned),
		zap.Int64("exec_time_ms", params.ExecTimeMs),
		zap.Int64("memory_kib", params.MemoryKiB))

	e.publishStatus(ctx, sub, params, outcome)
	return nil
}

// publishStatus emits the final-status event. Publication is best
// effort: a broker outage must never unwind a sealed verdict.
func (e *Engine) publishStatus(ctx context.Context, sub *model.Submission, params store.FinalizeParams, outcome store.FinalizeOutcome) {
	if e.events == nil {
		return
	}
	event := StatusEvent{
		SubmissionID: sub.SubmissionID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		Verdict:      string(params.Verdict),
		PointsEarned: outcome.PointsEarned,
		ExecTimeMs:   params.ExecTimeMs,
		MemoryKiB:    params.MemoryKiB,
		JudgedAt:     params.JudgedAt.Unix(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := mq.NewMessage(body)
	msg.ID = sub.SubmissionID
	if err := e.events.Publish(ctx, e.cfg.StatusTopic, msg); err != nil {
		logger.Warn(ctx, "publish status event failed",
			zap.String("submission_id", sub.SubmissionID), zap.Error(err))
	}
}

// contentError reports whether the error concerns the problem's content
// rather than the judging infrastructure.
func contentError(err error) bool {
	switch errors.GetCode(err) {
	case errors.ProblemNotFound, errors.ProblemNotApproved, errors.ManifestInvalid,
		errors.TestDataMissing, errors.LanguageNotSupported, errors.InvalidParams,
		errors.ValidationFailed:
		return true
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
