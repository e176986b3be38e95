package dispatch_test

import (
	"context"
	"testing"
	"time"

	"chainjudge/internal/dispatch"
	"chainjudge/internal/model"
	"chainjudge/internal/store"
	"chainjudge/pkg/errors"
)

type sweepCall struct {
	now         time.Time
	leaseTTL    time.Duration
	maxAttempts int
}

type fakeSubmissionStore struct {
	calls    []sweepCall
	requeued int64
	poisoned int64
	err      error
}

func (f *fakeSubmissionStore) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	return nil
}

func (f *fakeSubmissionStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	return nil, errors.New(errors.SubmissionNotFound)
}

func (f *fakeSubmissionStore) LeaseNext(ctx context.Context, workerID string, now time.Time, ttl time.Duration) (*model.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissionStore) FinalizeVerdict(ctx context.Context, params store.FinalizeParams) (store.FinalizeOutcome, error) {
	return store.FinalizeOutcome{}, nil
}

func (f *fakeSubmissionStore) SweepExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration, maxAttempts int) (int64, int64, error) {
	f.calls = append(f.calls, sweepCall{now: now, leaseTTL: leaseTTL, maxAttempts: maxAttempts})
	return f.requeued, f.poisoned, f.err
}

func (f *fakeSubmissionStore) MarkCancelled(ctx context.Context, id string) error { return nil }

func (f *fakeSubmissionStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func TestSweepPassesConfig(t *testing.T) {
	t.Parallel()
	st := &fakeSubmissionStore{requeued: 2, poisoned: 1}
	r := dispatch.NewReaper(st, 5*time.Minute, 3, time.Second)

	now := time.Now().UTC()
	r.Sweep(context.Background(), now)

	if len(st.calls) != 1 {
		t.Fatalf("expected one sweep call, got %d", len(st.calls))
	}
	call := st.calls[0]
	if !call.now.Equal(now) || call.leaseTTL != 5*time.Minute || call.maxAttempts != 3 {
		t.Fatalf("unexpected sweep args: %+v", call)
	}
}

func TestSweepSurvivesStoreError(t *testing.T) {
	t.Parallel()
	st := &fakeSubmissionStore{err: errors.New(errors.DatabaseError)}
	r := dispatch.NewReaper(st, time.Minute, 3, time.Second)

	// Must not panic; the next tick retries.
	r.Sweep(context.Background(), time.Now().UTC())
	r.Sweep(context.Background(), time.Now().UTC())
	if len(st.calls) != 2 {
		t.Fatalf("expected two sweep calls, got %d", len(st.calls))
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	t.Parallel()
	st := &fakeSubmissionStore{}
	r := dispatch.NewReaper(st, time.Minute, 3, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if len(st.calls) == 0 {
		t.Fatal("expected at least one sweep during the run window")
	}
}
