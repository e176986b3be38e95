// Package dispatch pulls pending submissions from the queue and fans
// them out to judge workers.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"

	"chainjudge/internal/common/mq"
	"chainjudge/internal/judge"
	"chainjudge/internal/model"
	"chainjudge/internal/store"
	"chainjudge/pkg/utils/logger"
)

// Config tunes the dispatcher.
type Config struct {
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	LeaseTTL      time.Duration `yaml:"leaseTTL"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	WakeTopic     string        `yaml:"wakeTopic"`
	NodeID        string        `yaml:"nodeId"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.WakeTopic == "" {
		c.WakeTopic = "judge.submitted"
	}
}

// Dispatcher leases pending submissions and judges them on a fixed pool
// of workers. A queue subscription wakes idle workers early; polling
// covers missed or replayed wake events.
type Dispatcher struct {
	cfg    Config
	store  store.Store
	engine *judge.Engine
	exec   judge.Executor
	queue  mq.MessageQueue
	wake   chan struct{}
}

// New creates a dispatcher. queue may be nil to run on polling alone.
func New(cfg Config, st store.Store, engine *judge.Engine, exec judge.Executor, queue mq.MessageQueue) *Dispatcher {
	cfg.SetDefaults()
	return &Dispatcher{
		cfg:    cfg,
		store:  st,
		engine: engine,
		exec:   exec,
		queue:  queue,
		wake:   make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done, judging submissions as they arrive.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.queue != nil {
		opts := &mq.SubscribeOptions{ConsumerGroup: "dispatcher-" + d.cfg.NodeID}
		err := d.queue.SubscribeWithOptions(ctx, d.cfg.WakeTopic, d.onWake, opts)
		if err == nil {
			err = d.queue.Start()
		}
		if err != nil {
			logger.Warn(ctx, "wake subscription failed, polling only", zap.Error(err))
		}
	}

	reaper := NewReaper(d.store, d.cfg.LeaseTTL, d.cfg.MaxAttempts, d.cfg.SweepInterval)
	threading.GoSafe(func() {
		reaper.Run(ctx)
	})

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-w%d", d.cfg.NodeID, i)
		wg.Add(1)
		threading.GoSafe(func() {
			defer wg.Done()
			d.workerLoop(ctx, workerID)
		})
	}
	wg.Wait()
}

func (d *Dispatcher) onWake(ctx context.Context, msg *mq.Message) error {
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) {
	ctx = context.WithValue(ctx, "worker_id", workerID)
	logger.Info(ctx, "judge worker started")

	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "judge worker stopped")
			return
		}

		sub, err := d.store.LeaseNext(ctx, workerID, time.Now().UTC(), d.cfg.LeaseTTL)
		if err != nil {
			logger.Error(ctx, "lease next submission failed", zap.Error(err))
			d.sleep(ctx)
			continue
		}
		if sub == nil {
			d.sleep(ctx)
			continue
		}
		d.handle(ctx, sub)
	}
}

func (d *Dispatcher) handle(ctx context.Context, sub *model.Submission) {
	ctx = context.WithValue(ctx, "submission_id", sub.SubmissionID)
	start := time.Now()

	if sub.Cancelled {
		// Cancelled work still flows through the lease so the per-pair
		// queue ordering stays intact; it is sealed without judging.
		_ = d.exec.Kill(ctx, sub.SubmissionID)
		if err := d.finalizeCancelled(ctx, sub); err != nil {
			logger.Error(ctx, "finalize cancelled submission failed", zap.Error(err))
		}
		return
	}

	if err := d.engine.Judge(ctx, sub); err != nil {
		// The lease stays on the row; the reaper requeues or poisons it.
		logger.Error(ctx, "judge submission failed",
			zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	logger.Debug(ctx, "submission dispatched", zap.Duration("elapsed", time.Since(start)))
}

func (d *Dispatcher) finalizeCancelled(ctx context.Context, sub *model.Submission) error {
	_, err := d.store.FinalizeVerdict(ctx, store.FinalizeParams{
		SubmissionID: sub.SubmissionID,
		Verdict:      model.VerdictIE,
		JudgedAt:     time.Now().UTC(),
	})
	return err
}

// sleep waits for the poll interval, a wake event, or shutdown.
func (d *Dispatcher) sleep(ctx context.Context) {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-d.wake:
	}
}
