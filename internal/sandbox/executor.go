// Package sandbox ties the box pool and the isolation engine together
// behind one executor surface.
package sandbox

import (
	"context"

	"chainjudge/internal/sandbox/boxpool"
	"chainjudge/internal/sandbox/engine"
	"chainjudge/internal/sandbox/result"
	"chainjudge/internal/sandbox/spec"
)

// Executor runs sandboxed commands inside leased boxes. A submission
// leases one box for its whole lifetime (compile plus every test run),
// so workspace files carry over between runs.
type Executor struct {
	pool   *boxpool.Pool
	engine engine.Engine
}

// NewExecutor creates an executor over a box pool and an engine.
func NewExecutor(pool *boxpool.Pool, eng engine.Engine) *Executor {
	return &Executor{pool: pool, engine: eng}
}

// Lease acquires a box, runs fn, and always returns the box to the pool.
func (e *Executor) Lease(ctx context.Context, fn func(box *boxpool.Box) error) error {
	box, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(box)
	return fn(box)
}

// Run executes one RunSpec. The caller is responsible for having staged
// the workspace (source, binaries, stdin file) under the leased box dir.
func (e *Executor) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	return e.engine.Run(ctx, runSpec)
}

// Kill terminates any live runs belonging to the submission. Used when a
// queued submission is cancelled mid-judge.
func (e *Executor) Kill(ctx context.Context, submissionID string) error {
	return e.engine.KillSubmission(ctx, submissionID)
}

// Boxes returns the pool capacity.
func (e *Executor) Boxes() int {
	return e.pool.Size()
}
