// Package app wires configuration into the components shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analyzer"
	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/cuongbtq/restaurant-analysis/internal/config"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
	"github.com/cuongbtq/restaurant-analysis/internal/maintenance"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/cuongbtq/restaurant-analysis/internal/worker"
	"github.com/cuongbtq/restaurant-analysis/shared/database"
	"github.com/cuongbtq/restaurant-analysis/shared/logger"
	"github.com/cuongbtq/restaurant-analysis/shared/rabbitmq"
	"github.com/google/uuid"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// OpenStore opens the job store named by cfg.Driver. The returned close func is never nil.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (jobstore.Store, func() error, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory job store; jobs are lost on restart")
		return jobstore.NewMemory(), func() error { return nil }, nil
	}

	client, err := database.NewClient(ctx, &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := jobstore.NewSQL(client.GetDB(), logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
	}

	return store, client.Close, nil
}

// InitRabbitMQ initializes the RabbitMQ client used for worker wake-ups
func InitRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(ctx, &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		QueueName:         cfg.Queue.Name,
		RoutingKey:        cfg.RoutingKey,
		Durable:           cfg.Exchange.Durable && cfg.Queue.Durable,
		PrefetchCount:     cfg.Consumer.PrefetchCount,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}, logger)
}

// NewQueue builds the job queue from the queue and worker settings
func NewQueue(cfg *config.Config, store jobstore.Store, notifier queue.Notifier, logger *slog.Logger) *queue.Queue {
	return queue.New(&queue.Config{
		Store:    store,
		Notifier: notifier,
		Policy: queue.Policy{
			MaxAttempts:   cfg.Queue.MaxAttempts,
			BackoffBase:   cfg.Queue.BackoffBase,
			BackoffCap:    cfg.Queue.BackoffCap,
			LeaseDuration: cfg.Queue.LeaseDuration,
		},
		PollInterval: cfg.Worker.PollInterval,
		Logger:       logger,
	})
}

// NewAnalyzer builds the website analyzer, with an LLM summary step when enabled
func NewAnalyzer(cfg *config.AnalysisConfig, logger *slog.Logger) (*analyzer.Analyzer, error) {
	var summarizer analyzer.Summarizer
	if cfg.OpenAI.Enabled {
		s, err := analyzer.NewOpenAISummarizer(analyzer.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize summarizer: %w", err)
		}
		summarizer = s
	}

	return analyzer.New(analyzer.Config{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		RateLimit:    cfg.Fetch.RateLimit,
		Burst:        cfg.Fetch.Burst,
	}, summarizer, logger), nil
}

// NewWorker builds the worker pool
func NewWorker(cfg *config.Config, q *queue.Queue, executor worker.Executor, observer worker.Observer, logger *slog.Logger) *worker.Worker {
	return worker.NewWorker(&worker.Config{
		Logger:            logger,
		Queue:             q,
		Executor:          executor,
		Observer:          observer,
		WorkerID:          WorkerID(cfg.Worker.ID),
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})
}

// NewMaintenance builds the housekeeping scheduler; responseCache may be nil
func NewMaintenance(cfg *config.Config, q *queue.Queue, responseCache cache.Cache, store jobstore.Store, logger *slog.Logger) *maintenance.Scheduler {
	return maintenance.New(&maintenance.Config{
		Logger:             logger,
		Reaper:             q,
		Cache:              responseCache,
		Store:              store,
		ReapInterval:       cfg.Queue.ReapInterval,
		CachePurgeInterval: cfg.Cache.PurgeInterval,
		RetentionInterval:  cfg.Jobs.PurgeInterval,
		Retention:          cfg.Jobs.Retention,
	})
}

// WorkerID returns the configured id or one derived from the host name
func WorkerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// RunWorker runs w until ctx is done, then waits up to timeout for in-flight jobs
func RunWorker(ctx context.Context, w *worker.Worker, timeout time.Duration, logger *slog.Logger) error {
	if err := w.Start(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, abandoning in-flight jobs to lease expiry")
	}
	return nil
}
