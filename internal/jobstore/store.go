package jobstore

import (
	"context"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
)

// Store is the durable record of analysis jobs. It owns the job lifecycle:
// every state change goes through one of its conditional operations.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	// FindLatestByDedupKey returns the most recently created job for the key or ErrJobNotFound.
	FindLatestByDedupKey(ctx context.Context, dedupKey string) (*domain.Job, error)

	// Lease atomically claims the oldest eligible job (Pending or Failed with run_at <= now),
	// increments its attempt and hands it to owner until now+leaseFor. ErrNoJobAvailable when none.
	Lease(ctx context.Context, owner string, now time.Time, leaseFor time.Duration) (*domain.Job, error)
	ExtendLease(ctx context.Context, jobID, owner string, until, now time.Time) error
	Complete(ctx context.Context, jobID, owner string, result domain.Metadata, now time.Time) error
	// Fail records a failed attempt. A nil retryAt dead-letters the job, otherwise it becomes
	// Failed and eligible again at retryAt.
	Fail(ctx context.Context, jobID, owner, lastError string, retryAt *time.Time, now time.Time) error
	MarkCancelled(ctx context.Context, jobID, owner string, now time.Time) error

	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	// ExpireLease behaves like Fail but only while the owner's lease is still expired at now.
	ExpireLease(ctx context.Context, jobID, owner, lastError string, retryAt *time.Time, now time.Time) error

	// Cancel removes a Pending/Failed job or flags a Leased one for cancellation.
	Cancel(ctx context.Context, jobID string, now time.Time) (*domain.Job, error)
	// Requeue moves a DeadLettered job back to Pending with a fresh attempt budget.
	Requeue(ctx context.Context, jobID string, now time.Time) (*domain.Job, error)

	CountByState(ctx context.Context) (map[domain.JobState]int, error)
	// List fetches one row more than PageSize so callers can tell whether another page exists.
	List(ctx context.Context, filter ListFilter) ([]*domain.Job, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// ListFilter selects jobs for listing, newest update first
type ListFilter struct {
	State    domain.JobState
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row returned
type JobCursor struct {
	UpdatedAt time.Time
	JobID     string
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := normalizeTime(*t)
	return &v
}
