package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
)

// Memory is a process-local Store. A single mutex serializes all transitions,
// which makes Lease atomic with respect to concurrent workers.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	byDedup map[string]string
	counts  map[domain.JobState]int
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]*domain.Job),
		byDedup: make(map[string]string),
		counts:  make(map[domain.JobState]int),
	}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("failed to create job: job id is required")
	}

	stored := job.Clone()
	stored.RunAt = normalizeTime(stored.RunAt)
	stored.CreatedAt = normalizeTime(stored.CreatedAt)
	stored.UpdatedAt = normalizeTime(stored.UpdatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[stored.JobID]; exists {
		return fmt.Errorf("failed to create job: job %s already exists", stored.JobID)
	}

	m.jobs[stored.JobID] = stored
	m.counts[stored.State]++
	if latest, ok := m.jobs[m.byDedup[stored.DedupKey]]; !ok || !latest.CreatedAt.After(stored.CreatedAt) {
		m.byDedup[stored.DedupKey] = stored.JobID
	}
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) FindLatestByDedupKey(_ context.Context, dedupKey string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.byDedup[dedupKey]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) Lease(_ context.Context, owner string, now time.Time, leaseFor time.Duration) (*domain.Job, error) {
	now = normalizeTime(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	var next *domain.Job
	for _, job := range m.jobs {
		if !job.State.IsEligible() || job.RunAt.After(now) {
			continue
		}
		if next == nil || leaseOrderLess(job, next) {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNoJobAvailable
	}

	expiresAt := now.Add(leaseFor)
	leaseOwner := owner
	m.setState(next, domain.JobStateLeased)
	next.Attempt++
	next.LeaseOwner = &leaseOwner
	next.LeaseExpiresAt = &expiresAt
	next.UpdatedAt = now

	return next.Clone(), nil
}

func leaseOrderLess(a, b *domain.Job) bool {
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.JobID < b.JobID
}

func (m *Memory) ExtendLease(_ context.Context, jobID, owner string, until, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.leasedBy(jobID, owner)
	if err != nil {
		return err
	}
	until = normalizeTime(until)
	job.LeaseExpiresAt = &until
	job.UpdatedAt = normalizeTime(now)
	return nil
}

func (m *Memory) Complete(_ context.Context, jobID, owner string, result domain.Metadata, now time.Time) error {
	now = normalizeTime(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.leasedBy(jobID, owner)
	if err != nil {
		return err
	}
	m.setState(job, domain.JobStateSucceeded)
	job.Result = result.Clone()
	job.CompletedAt = &now
	job.UpdatedAt = now
	m.releaseLease(job)
	return nil
}

func (m *Memory) Fail(_ context.Context, jobID, owner, lastError string, retryAt *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.leasedBy(jobID, owner)
	if err != nil {
		return err
	}
	m.recordFailure(job, lastError, retryAt, normalizeTime(now))
	return nil
}

func (m *Memory) MarkCancelled(_ context.Context, jobID, owner string, now time.Time) error {
	now = normalizeTime(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.leasedBy(jobID, owner)
	if err != nil {
		return err
	}
	m.setState(job, domain.JobStateCancelled)
	job.CompletedAt = &now
	job.UpdatedAt = now
	m.releaseLease(job)
	return nil
}

func (m *Memory) ListExpiredLeases(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	now = normalizeTime(now)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*domain.Job
	for _, job := range m.jobs {
		if job.LeaseExpired(now) {
			expired = append(expired, job.Clone())
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].LeaseExpiresAt.Before(*expired[j].LeaseExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *Memory) ExpireLease(_ context.Context, jobID, owner, lastError string, retryAt *time.Time, now time.Time) error {
	now = normalizeTime(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.leasedBy(jobID, owner)
	if err != nil {
		return err
	}
	if !job.LeaseExpired(now) {
		return domain.ErrLeaseLost
	}
	m.recordFailure(job, lastError, retryAt, now)
	return nil
}

func (m *Memory) Cancel(_ context.Context, jobID string, now time.Time) (*domain.Job, error) {
	now = normalizeTime(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	switch {
	case job.State.IsEligible():
		m.setState(job, domain.JobStateCancelled)
		job.CompletedAt = &now
	case job.State == domain.JobStateLeased:
		job.CancelRequested = true
	default:
		return nil, fmt.Errorf("cannot cancel job in state %s: %w", job.State, domain.ErrInvalidStateTransition)
	}
	job.UpdatedAt = now
	return job.Clone(), nil
}

func (m *Memory) Requeue(_ context.Context, jobID string, now time.Time) (*domain.Job, error) {
	now = normalizeTime(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.State != domain.JobStateDeadLettered {
		return nil, fmt.Errorf("cannot requeue job in state %s: %w", job.State, domain.ErrInvalidStateTransition)
	}

	m.setState(job, domain.JobStatePending)
	job.Attempt = 0
	job.RunAt = now
	job.CompletedAt = nil
	job.CancelRequested = false
	job.UpdatedAt = now
	return job.Clone(), nil
}

// CountByState reads the incrementally maintained counters, so it never scans the job table
func (m *Memory) CountByState(_ context.Context) (map[domain.JobState]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.JobState]int, len(m.counts))
	for state, n := range m.counts {
		if n > 0 {
			counts[state] = n
		}
	}
	return counts, nil
}

func (m *Memory) List(_ context.Context, filter ListFilter) ([]*domain.Job, error) {
	m.mu.RLock()
	var matched []*domain.Job
	for _, job := range m.jobs {
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if filter.Cursor != nil && !listBefore(job, filter.Cursor) {
			continue
		}
		matched = append(matched, job.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].JobID > matched[j].JobID
	})

	if filter.PageSize > 0 && len(matched) > filter.PageSize+1 {
		matched = matched[:filter.PageSize+1]
	}
	return matched, nil
}

// listBefore reports whether job sorts strictly after the cursor in newest-first order
func listBefore(job *domain.Job, cursor *JobCursor) bool {
	cursorAt := normalizeTime(cursor.UpdatedAt)
	if job.UpdatedAt.Equal(cursorAt) {
		return job.JobID < cursor.JobID
	}
	return job.UpdatedAt.Before(cursorAt)
}

func (m *Memory) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	before = normalizeTime(before)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, job := range m.jobs {
		if !job.State.IsTerminal() || job.CompletedAt == nil || !job.CompletedAt.Before(before) {
			continue
		}
		delete(m.jobs, id)
		m.counts[job.State]--
		if m.byDedup[job.DedupKey] == id {
			delete(m.byDedup, job.DedupKey)
		}
		removed++
	}
	return removed, nil
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// leasedBy must be called with m.mu held
func (m *Memory) leasedBy(jobID, owner string) (*domain.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !job.IsLeasedBy(owner) {
		return nil, domain.ErrLeaseLost
	}
	return job, nil
}

// recordFailure must be called with m.mu held on a leased job
func (m *Memory) recordFailure(job *domain.Job, lastError string, retryAt *time.Time, now time.Time) {
	msg := lastError
	job.LastError = &msg
	job.UpdatedAt = now
	if retryAt == nil {
		m.setState(job, domain.JobStateDeadLettered)
		job.CompletedAt = &now
	} else {
		m.setState(job, domain.JobStateFailed)
		job.RunAt = normalizeTime(*retryAt)
	}
	m.releaseLease(job)
}

func (m *Memory) releaseLease(job *domain.Job) {
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
}

func (m *Memory) setState(job *domain.Job, state domain.JobState) {
	m.counts[job.State]--
	m.counts[state]++
	job.State = state
}
