package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
)

const (
	leaseExpiredError = "lease expired"
	reapBatchSize     = 100
)

// Queue hands eligible jobs to workers under a lease and records their outcome.
// All state lives in the store; the notifier only shortens the wait.
type Queue struct {
	store        jobstore.Store
	notifier     Notifier
	policy       Policy
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// Config holds queue dependencies
type Config struct {
	Store        jobstore.Store
	Notifier     Notifier
	Policy       Policy
	PollInterval time.Duration
	Logger       *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

func New(cfg *Config) *Queue {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewMemoryNotifier(1)
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Queue{
		store:        cfg.Store,
		notifier:     notifier,
		policy:       cfg.Policy,
		pollInterval: pollInterval,
		logger:       cfg.Logger,
		now:          now,
	}
}

func (q *Queue) Policy() Policy {
	return q.policy
}

// Enqueue wakes a waiting worker for a job that is already stored as Pending.
// A failed notification is logged only: workers poll the store anyway.
func (q *Queue) Enqueue(ctx context.Context, jobID string) {
	if err := q.notifier.Notify(ctx, jobID); err != nil {
		q.logger.Warn("Failed to notify workers of new job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// TryDequeue leases the next eligible job without waiting
func (q *Queue) TryDequeue(ctx context.Context, owner string) (*domain.Job, error) {
	return q.store.Lease(ctx, owner, q.now(), q.policy.LeaseDuration)
}

// Dequeue blocks until a job is leased to owner or ctx is done
func (q *Queue) Dequeue(ctx context.Context, owner string) (*domain.Job, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		job, err := q.TryDequeue(ctx, owner)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, domain.ErrNoJobAvailable) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notifier.Wakeups():
		case <-ticker.C:
		}
	}
}

// Ack records a successful attempt
func (q *Queue) Ack(ctx context.Context, job *domain.Job, result domain.Metadata) error {
	return q.store.Complete(ctx, job.JobID, leaseOwner(job), result, q.now())
}

// Nack records a failed attempt and returns the state the job moved to.
// Permanent errors and exhausted attempts dead-letter the job; anything else is retried after backoff.
func (q *Queue) Nack(ctx context.Context, job *domain.Job, execErr error) (domain.JobState, error) {
	now := q.now()
	retryAt := q.policy.RetryAt(job, domain.IsPermanent(execErr), now)

	if err := q.store.Fail(ctx, job.JobID, leaseOwner(job), execErr.Error(), retryAt, now); err != nil {
		return job.State, err
	}

	if retryAt == nil {
		return domain.JobStateDeadLettered, nil
	}
	return domain.JobStateFailed, nil
}

// AckCancelled finishes a leased job whose cancellation was requested
func (q *Queue) AckCancelled(ctx context.Context, job *domain.Job) error {
	return q.store.MarkCancelled(ctx, job.JobID, leaseOwner(job), q.now())
}

// Extend pushes the lease forward by one lease duration
func (q *Queue) Extend(ctx context.Context, job *domain.Job) error {
	now := q.now()
	return q.store.ExtendLease(ctx, job.JobID, leaseOwner(job), now.Add(q.policy.LeaseDuration), now)
}

// CancelRequested reports whether someone asked to cancel the job while it is leased
func (q *Queue) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// RecoverExpired fails every job whose lease ran out without an ack.
// The expired attempt counts, so a crashing job still reaches DeadLettered.
func (q *Queue) RecoverExpired(ctx context.Context) (int, error) {
	now := q.now()

	expired, err := q.store.ListExpiredLeases(ctx, now, reapBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}

	recovered := 0
	for _, job := range expired {
		retryAt := q.policy.RetryAt(job, false, now)
		err := q.store.ExpireLease(ctx, job.JobID, leaseOwner(job), leaseExpiredError, retryAt, now)
		if errors.Is(err, domain.ErrLeaseLost) {
			// acked or extended since listing
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to expire lease of job %s: %w", job.JobID, err)
		}

		recovered++
		q.logger.Warn("Recovered job with expired lease",
			slog.String("job_id", job.JobID),
			slog.String("owner", leaseOwner(job)),
			slog.Int("attempt", job.Attempt),
			slog.Bool("dead_lettered", retryAt == nil),
		)
		if retryAt != nil {
			q.Enqueue(ctx, job.JobID)
		}
	}

	return recovered, nil
}

func leaseOwner(job *domain.Job) string {
	if job.LeaseOwner == nil {
		return ""
	}
	return *job.LeaseOwner
}
