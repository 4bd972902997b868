package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
)

// Executor runs one attempt of a job. It must be safe to re-run for the same job.
type Executor interface {
	Analyze(ctx context.Context, job *domain.Job) (domain.Metadata, error)
}

// Observer is told how each leased job ended
type Observer interface {
	ObserveJob(state domain.JobState, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveJob(domain.JobState, time.Duration) {}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Queue             *queue.Queue
	Executor          Executor
	Observer          Observer
	WorkerID          string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker is a fixed-size pool of executors leasing jobs from the queue
type Worker struct {
	logger            *slog.Logger
	queue             *queue.Queue
	executor          Executor
	observer          Observer
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		executor:          cfg.Executor,
		observer:          observer,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopChan:          make(chan struct{}),
	}
}

// Start spawns the pool and blocks until ctx is canceled or Stop is called.
// Jobs already leased keep running; Stop waits for them.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, no longer leasing jobs")
	case <-w.stopChan:
	}
	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
