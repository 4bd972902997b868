package analysis

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const dedupStripes = 64

// SubmissionObserver is told how each submission was answered
type SubmissionObserver interface {
	ObserveSubmission(outcome string)
}

type noopSubmissionObserver struct{}

func (noopSubmissionObserver) ObserveSubmission(string) {}

// Submission outcomes reported to the observer
const (
	OutcomeCreated      = "created"
	OutcomeDeduplicated = "deduplicated"
	OutcomeRejected     = "rejected"
	OutcomeUnavailable  = "unavailable"
)

// SubmitRequest is a request to analyze one website
type SubmitRequest struct {
	URL      string
	Metadata domain.Metadata
}

// SubmitResult names the job that will answer the request
type SubmitResult struct {
	JobID        string
	State        domain.JobState
	Deduplicated bool
}

// Status is the client-visible view of a job
type Status struct {
	JobID       string
	State       domain.JobState
	Attempt     int
	MaxAttempts int
	Result      domain.Metadata
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Config holds service dependencies and knobs
type Config struct {
	Store            jobstore.Store
	Queue            *queue.Queue
	Cache            cache.Cache
	Observer         SubmissionObserver
	Logger           *slog.Logger
	DedupWindow      time.Duration
	MaxMetadataBytes int
	// NewID defaults to uuid.NewString
	NewID func() string
	// Now defaults to time.Now
	Now func() time.Time
}

// Service is the entry point for submitting analyses and reading their status
type Service struct {
	store            jobstore.Store
	queue            *queue.Queue
	cache            cache.Cache
	observer         SubmissionObserver
	logger           *slog.Logger
	dedupWindow      time.Duration
	maxMetadataBytes int
	newID            func() string
	now              func() time.Time

	stripes [dedupStripes]sync.Mutex
	lookups singleflight.Group
}

func NewService(cfg *Config) *Service {
	s := &Service{
		store:            cfg.Store,
		queue:            cfg.Queue,
		cache:            cfg.Cache,
		observer:         cfg.Observer,
		logger:           cfg.Logger,
		dedupWindow:      cfg.DedupWindow,
		maxMetadataBytes: cfg.MaxMetadataBytes,
		newID:            cfg.NewID,
		now:              cfg.Now,
	}
	if s.observer == nil {
		s.observer = noopSubmissionObserver{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Submit returns an existing job for the same normalized URL when one is still
// running or succeeded within the dedup window, and creates a Pending job otherwise.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	inputURL := strings.TrimSpace(req.URL)
	dedupKey, err := domain.NormalizeURL(inputURL)
	if err != nil {
		s.observer.ObserveSubmission(OutcomeRejected)
		return nil, err
	}
	if err := req.Metadata.Validate(s.maxMetadataBytes); err != nil {
		s.observer.ObserveSubmission(OutcomeRejected)
		return nil, err
	}

	mu := s.stripe(dedupKey)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()

	if existing := s.findReusable(ctx, dedupKey, now); existing != nil {
		s.observer.ObserveSubmission(OutcomeDeduplicated)
		s.logger.Info("Submission deduplicated",
			slog.String("job_id", existing.JobID),
			slog.String("dedup_key", dedupKey),
			slog.String("state", existing.State.String()),
		)
		return &SubmitResult{JobID: existing.JobID, State: existing.State, Deduplicated: true}, nil
	}

	job := domain.NewJob(s.newID(), inputURL, dedupKey, s.queue.Policy().MaxAttempts, req.Metadata.Clone(), now)
	if err := s.store.Create(ctx, job); err != nil {
		s.observer.ObserveSubmission(OutcomeUnavailable)
		s.logger.Error("Failed to persist job",
			slog.String("dedup_key", dedupKey),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	s.queue.Enqueue(ctx, job.JobID)
	s.rememberSubmission(ctx, dedupKey, job.JobID)

	s.observer.ObserveSubmission(OutcomeCreated)
	s.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("url", inputURL),
	)
	return &SubmitResult{JobID: job.JobID, State: job.State}, nil
}

// findReusable checks the submission cache first and falls back to the store.
// Lookup failures only cost a duplicate job, so they are logged and treated as misses.
func (s *Service) findReusable(ctx context.Context, dedupKey string, now time.Time) *domain.Job {
	if s.cache != nil {
		if cached, found, err := s.cache.Get(ctx, cache.SubmissionKey(dedupKey)); err != nil {
			s.logger.Warn("Submission cache lookup failed", slog.Any("error", err))
		} else if found {
			job, err := s.store.Get(ctx, string(cached))
			if err == nil && s.reusable(job, now) {
				return job
			}
		}
	}

	job, err := s.store.FindLatestByDedupKey(ctx, dedupKey)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Warn("Dedup lookup failed", slog.Any("error", err))
		}
		return nil
	}
	if s.reusable(job, now) {
		return job
	}
	return nil
}

func (s *Service) reusable(job *domain.Job, now time.Time) bool {
	if !job.State.IsTerminal() {
		return true
	}
	return job.State == domain.JobStateSucceeded &&
		job.CompletedAt != nil &&
		now.Sub(*job.CompletedAt) < s.dedupWindow
}

func (s *Service) rememberSubmission(ctx context.Context, dedupKey, jobID string) {
	if s.cache == nil || s.dedupWindow <= 0 {
		return
	}
	if err := s.cache.Set(ctx, cache.SubmissionKey(dedupKey), []byte(jobID), s.dedupWindow); err != nil {
		s.logger.Warn("Failed to cache submission", slog.Any("error", err))
	}
}

func (s *Service) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%dedupStripes]
}

// GetStatus reads a job. Concurrent lookups of the same id share one store read,
// which outlives any single caller; each caller still returns when its own ctx is done.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(jobID, func() (any, error) {
		return s.store.Get(flightCtx, jobID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return newStatus(res.Val.(*domain.Job).Clone()), nil
	}
}

// Cancel stops a job: Pending/Failed jobs are cancelled at once, a Leased job
// is flagged and finished by its worker at the next safe point.
func (s *Service) Cancel(ctx context.Context, jobID string) (*Status, error) {
	job, err := s.store.Cancel(ctx, jobID, s.now())
	if err != nil {
		return nil, err
	}
	s.invalidateStatus(ctx, jobID)

	s.logger.Info("Job cancellation requested",
		slog.String("job_id", jobID),
		slog.String("state", job.State.String()),
	)
	return newStatus(job), nil
}

// Requeue gives a dead-lettered job a fresh attempt budget
func (s *Service) Requeue(ctx context.Context, jobID string) (*Status, error) {
	job, err := s.store.Requeue(ctx, jobID, s.now())
	if err != nil {
		return nil, err
	}

	s.queue.Enqueue(ctx, job.JobID)
	s.logger.Info("Dead-lettered job requeued", slog.String("job_id", jobID))
	return newStatus(job), nil
}

// invalidateStatus drops the cached GET response of the job
func (s *Service) invalidateStatus(ctx context.Context, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.StatusKey(jobID)); err != nil {
		s.logger.Warn("Failed to invalidate cached status",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

func newStatus(job *domain.Job) *Status {
	return &Status{
		JobID:       job.JobID,
		State:       job.State,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Result:      job.Result,
		LastError:   job.LastErrorString(),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
