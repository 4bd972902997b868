package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type executorFunc func(ctx context.Context, job *domain.Job) (domain.Metadata, error)

func (f executorFunc) Analyze(ctx context.Context, job *domain.Job) (domain.Metadata, error) {
	return f(ctx, job)
}

type recordingObserver struct {
	mu     sync.Mutex
	states []domain.JobState
}

func (o *recordingObserver) ObserveJob(state domain.JobState, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) snapshot() []domain.JobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.JobState(nil), o.states...)
}

type harness struct {
	store    *jobstore.Memory
	queue    *queue.Queue
	observer *recordingObserver
}

func newHarness(maxAttempts int) *harness {
	store := jobstore.NewMemory()
	q := queue.New(&queue.Config{
		Store: store,
		Policy: queue.Policy{
			MaxAttempts:   maxAttempts,
			BackoffBase:   5 * time.Millisecond,
			BackoffCap:    20 * time.Millisecond,
			LeaseDuration: time.Minute,
		},
		PollInterval: 5 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{store: store, queue: q, observer: &recordingObserver{}}
}

func (h *harness) submit(t *testing.T, id string, maxAttempts int) {
	t.Helper()
	job := domain.NewJob(id, "https://"+id+".example", id+".example", maxAttempts, nil, time.Now())
	require.NoError(t, h.store.Create(context.Background(), job))
	h.queue.Enqueue(context.Background(), id)
}

func (h *harness) start(t *testing.T, executor Executor, jobTimeout time.Duration) *Worker {
	t.Helper()

	w := NewWorker(&Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:             h.queue,
		Executor:          executor,
		Observer:          h.observer,
		WorkerID:          "test-worker",
		Concurrency:       2,
		JobTimeout:        jobTimeout,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func (h *harness) waitForState(t *testing.T, id string, want domain.JobState) *domain.Job {
	t.Helper()

	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.store.Get(context.Background(), id)
		return err == nil && job.State == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestWorker_Succeeds(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)

	h.start(t, executorFunc(func(_ context.Context, job *domain.Job) (domain.Metadata, error) {
		return domain.Metadata{"title": "Site of " + job.JobID}, nil
	}), time.Second)

	job := h.waitForState(t, "j1", domain.JobStateSucceeded)
	assert.Equal(t, "Site of j1", job.Result["title"])
	assert.Equal(t, 1, job.Attempt)
	assert.Nil(t, job.LeaseOwner)
	assert.Equal(t, []domain.JobState{domain.JobStateSucceeded}, h.observer.snapshot())
}

func TestWorker_PermanentFailureDoesNotRetry(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)

	var calls atomic.Int32
	h.start(t, executorFunc(func(context.Context, *domain.Job) (domain.Metadata, error) {
		calls.Add(1)
		return nil, domain.NewPermanentError(errors.New("site responded 404"))
	}), time.Second)

	job := h.waitForState(t, "j1", domain.JobStateDeadLettered)
	assert.Equal(t, 1, job.Attempt)
	assert.Contains(t, job.LastErrorString(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWorker_TransientFailureIsRetried(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)

	var calls atomic.Int32
	h.start(t, executorFunc(func(context.Context, *domain.Job) (domain.Metadata, error) {
		if calls.Add(1) == 1 {
			return nil, domain.NewTransientError(errors.New("connection reset"))
		}
		return domain.Metadata{"ok": true}, nil
	}), time.Second)

	job := h.waitForState(t, "j1", domain.JobStateSucceeded)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, "transient error: connection reset", job.LastErrorString())
}

func TestWorker_ExhaustedAttemptsDeadLetter(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)

	h.start(t, executorFunc(func(context.Context, *domain.Job) (domain.Metadata, error) {
		return nil, errors.New("unclassified failure")
	}), time.Second)

	job := h.waitForState(t, "j1", domain.JobStateDeadLettered)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, "unclassified failure", job.LastErrorString())
}

func TestWorker_PanicIsTransient(t *testing.T) {
	h := newHarness(1)
	h.submit(t, "j1", 1)

	h.start(t, executorFunc(func(context.Context, *domain.Job) (domain.Metadata, error) {
		panic("nil map")
	}), time.Second)

	job := h.waitForState(t, "j1", domain.JobStateDeadLettered)
	assert.Contains(t, job.LastErrorString(), "panic during analysis: nil map")
}

func TestWorker_Timeout(t *testing.T) {
	h := newHarness(1)
	h.submit(t, "j1", 1)

	h.start(t, executorFunc(func(ctx context.Context, _ *domain.Job) (domain.Metadata, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 30*time.Millisecond)

	job := h.waitForState(t, "j1", domain.JobStateDeadLettered)
	assert.Contains(t, job.LastErrorString(), "timed out")
}

func TestWorker_CancelWhileLeased(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)

	started := make(chan struct{})
	release := make(chan struct{})
	h.start(t, executorFunc(func(context.Context, *domain.Job) (domain.Metadata, error) {
		close(started)
		<-release
		return domain.Metadata{"title": "ignored"}, nil
	}), 5*time.Second)

	<-started
	job, err := h.store.Cancel(context.Background(), "j1", time.Now())
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)
	close(release)

	job = h.waitForState(t, "j1", domain.JobStateCancelled)
	assert.Nil(t, job.Result)
}

func TestWorker_CancelledBeforeLeaseNeverRuns(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)
	_, err := h.store.Cancel(context.Background(), "j1", time.Now())
	require.NoError(t, err)
	h.submit(t, "j2", 3)

	var ran sync.Map
	h.start(t, executorFunc(func(_ context.Context, job *domain.Job) (domain.Metadata, error) {
		ran.Store(job.JobID, true)
		return domain.Metadata{}, nil
	}), time.Second)

	h.waitForState(t, "j2", domain.JobStateSucceeded)
	_, ok := ran.Load("j1")
	assert.False(t, ok)
}

func TestWorker_StopWaitsForInFlightJob(t *testing.T) {
	h := newHarness(3)
	h.submit(t, "j1", 3)

	started := make(chan struct{})
	w := NewWorker(&Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:  h.queue,
		Executor: executorFunc(func(context.Context, *domain.Job) (domain.Metadata, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return domain.Metadata{"done": true}, nil
		}),
		WorkerID:    "test-worker",
		Concurrency: 1,
		JobTimeout:  time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx) }()

	<-started
	cancel()
	w.Stop()

	job, err := h.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSucceeded, job.State)
}
