package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chainjudge/internal/store"
	"chainjudge/pkg/utils/logger"
)

// Reaper recovers submissions whose worker died mid-judge. Expired
// leases are requeued until the attempt cap, then sealed as internal
// errors so a poisonous submission cannot wedge its user's queue.
type Reaper struct {
	store       store.SubmissionStore
	leaseTTL    time.Duration
	maxAttempts int
	interval    time.Duration
}

// NewReaper creates a reaper.
func NewReaper(st store.SubmissionStore, leaseTTL time.Duration, maxAttempts int, interval time.Duration) *Reaper {
	return &Reaper{store: st, leaseTTL: leaseTTL, maxAttempts: maxAttempts, interval: interval}
}

// Run sweeps on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep runs one pass over expired leases.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) {
	requeued, poisoned, err := r.store.SweepExpiredLeases(ctx, now, r.leaseTTL, r.maxAttempts)
	if err != nil {
		logger.Error(ctx, "lease sweep failed", zap.Error(err))
		return
	}
	if requeued > 0 || poisoned > 0 {
		logger.Info(ctx, "expired leases swept",
			zap.Int64("requeued", requeued),
			zap.Int64("poisoned", poisoned))
	}
}
