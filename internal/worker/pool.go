package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// dequeueErrorBackoff spaces out retries when the store itself is failing
const dequeueErrorBackoff = time.Second

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop leases and processes jobs until the pool is stopped
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	owner := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", owner))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping - stopChan closed")
			return
		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping - context canceled")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("Failed to lease job", slog.Any("error", err))

			select {
			case <-w.stopChan:
			case <-ctx.Done():
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}

		w.processJob(ctx, job, logger)
	}
}
