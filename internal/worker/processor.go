package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
)

// processJob runs one leased job to an outcome: Succeeded, Failed, DeadLettered or Cancelled
func (w *Worker) processJob(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	logger = logger.With(
		slog.String("job_id", job.JobID),
		slog.Int("attempt", job.Attempt),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	start := time.Now()

	// acks must land even when the pool is shutting down
	ackCtx := context.WithoutCancel(ctx)

	if w.cancelRequested(ackCtx, job, logger) {
		w.finishCancelled(ackCtx, job, logger, start)
		return
	}

	logger.Info("Processing job", slog.String("url", job.InputURL))

	jobCtx, cancel := context.WithTimeout(ackCtx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job, heartbeatDone, logger)

	result, err := w.execute(jobCtx, job)
	close(heartbeatDone)

	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !domain.IsPermanent(err) {
		err = domain.NewTransientError(fmt.Errorf("job timed out after %s: %w", w.jobTimeout, err))
	}

	if w.cancelRequested(ackCtx, job, logger) {
		w.finishCancelled(ackCtx, job, logger, start)
		return
	}

	if err != nil {
		state, nackErr := w.queue.Nack(ackCtx, job, err)
		if nackErr != nil {
			w.logAckFailure(logger, "failure", nackErr)
			return
		}

		w.observer.ObserveJob(state, time.Since(start))
		logger.Warn("Job execution failed",
			slog.String("state", state.String()),
			slog.Bool("permanent", domain.IsPermanent(err)),
			slog.Any("error", err),
		)
		return
	}

	if ackErr := w.queue.Ack(ackCtx, job, result); ackErr != nil {
		w.logAckFailure(logger, "success", ackErr)
		return
	}

	w.observer.ObserveJob(domain.JobStateSucceeded, time.Since(start))
	logger.Info("Job completed successfully", slog.Duration("elapsed", time.Since(start)))
}

// execute calls the executor, turning a panic into a retryable failure
func (w *Worker) execute(ctx context.Context, job *domain.Job) (result domain.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewTransientError(fmt.Errorf("panic during analysis: %v", r))
		}
	}()

	return w.executor.Analyze(ctx, job)
}

// cancelRequested is a safe point: a failed check means keep going
func (w *Worker) cancelRequested(ctx context.Context, job *domain.Job, logger *slog.Logger) bool {
	requested, err := w.queue.CancelRequested(ctx, job.JobID)
	if err != nil {
		logger.Warn("Failed to check job cancellation", slog.Any("error", err))
		return false
	}
	return requested
}

func (w *Worker) finishCancelled(ctx context.Context, job *domain.Job, logger *slog.Logger, start time.Time) {
	if err := w.queue.AckCancelled(ctx, job); err != nil {
		w.logAckFailure(logger, "cancellation", err)
		return
	}
	w.observer.ObserveJob(domain.JobStateCancelled, time.Since(start))
	logger.Info("Job cancelled")
}

func (w *Worker) logAckFailure(logger *slog.Logger, outcome string, err error) {
	if errors.Is(err, domain.ErrLeaseLost) {
		// the reaper or another worker owns the job now; this attempt's outcome is dropped
		logger.Warn("Lease lost before recording outcome", slog.String("outcome", outcome))
		return
	}
	logger.Error("Failed to record job outcome",
		slog.String("outcome", outcome),
		slog.Any("error", err),
	)
}

// sendJobHeartbeat keeps the lease alive while the job runs
func (w *Worker) sendJobHeartbeat(ctx context.Context, job *domain.Job, done <-chan struct{}, logger *slog.Logger) {
	if w.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.Extend(ctx, job)
			if errors.Is(err, domain.ErrLeaseLost) {
				logger.Warn("Lease lost during heartbeat")
				return
			}
			if err != nil {
				logger.Warn("Failed to extend job lease", slog.Any("error", err))
				continue
			}
			logger.Debug("Job lease extended")
		}
	}
}
