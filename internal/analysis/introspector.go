package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// QueueStats is a point-in-time count of jobs per state
type QueueStats struct {
	Counts map[domain.JobState]int
	Total  int
}

// DeadLetter is one dead-lettered job as shown to operators
type DeadLetter struct {
	JobID     string
	InputURL  string
	Attempt   int
	LastError string
	UpdatedAt time.Time
}

// DeadLetterPage is one page of dead letters, newest first
type DeadLetterPage struct {
	Jobs       []DeadLetter
	NextCursor string
}

// Introspector is a read-only view over the job store for dashboards.
// Every call is a single store read; nothing here takes queue-wide locks.
type Introspector struct {
	store jobstore.Store
}

func NewIntrospector(store jobstore.Store) *Introspector {
	return &Introspector{store: store}
}

// Stats returns counts for every state, zero-filled
func (i *Introspector) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := i.store.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	stats := &QueueStats{Counts: make(map[domain.JobState]int, len(domain.AllJobStates))}
	for _, state := range domain.AllJobStates {
		stats.Counts[state] = counts[state]
		stats.Total += counts[state]
	}
	return stats, nil
}

// DeadLetters lists dead-lettered jobs after cursor. pageSize is clamped to [1, MaxPageSize],
// with DefaultPageSize for non-positive values.
func (i *Introspector) DeadLetters(ctx context.Context, cursor string, pageSize int) (*DeadLetterPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	position, err := DecodeJobCursor(cursor)
	if err != nil {
		return nil, domain.NewValidationError("cursor", err.Error())
	}

	jobs, err := i.store.List(ctx, jobstore.ListFilter{
		State:    domain.JobStateDeadLettered,
		PageSize: pageSize,
		Cursor:   position,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	hasMore := len(jobs) > pageSize
	if hasMore {
		jobs = jobs[:pageSize]
	}

	page := &DeadLetterPage{Jobs: make([]DeadLetter, len(jobs))}
	for n, job := range jobs {
		page.Jobs[n] = DeadLetter{
			JobID:     job.JobID,
			InputURL:  job.InputURL,
			Attempt:   job.Attempt,
			LastError: job.LastErrorString(),
			UpdatedAt: job.UpdatedAt,
		}
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		page.NextCursor = EncodeJobCursor(&jobstore.JobCursor{UpdatedAt: last.UpdatedAt, JobID: last.JobID})
	}
	return page, nil
}
