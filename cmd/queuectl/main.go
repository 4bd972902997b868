package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis"
	"github.com/cuongbtq/restaurant-analysis/internal/app"
	"github.com/cuongbtq/restaurant-analysis/internal/cli"
	"github.com/cuongbtq/restaurant-analysis/internal/config"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.NewRootCommand(openEnv), os.Stderr)
	stop()
	os.Exit(code)
}

// openEnv connects to the same store the services use. Logs go to stderr so command output stays clean.
func openEnv(ctx context.Context, configPath string) (*cli.Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Database.Driver == config.DriverMemory {
		return nil, errors.New("queuectl needs a shared database; the memory driver only lives inside the API process")
	}

	cfg.Logging.Output = "stderr"
	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		cfg.Logging.Level = "warn"
	}
	appLogger, err := app.InitLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, closeStore, err := app.OpenStore(ctx, &cfg.Database, appLogger.Component("jobstore"))
	if err != nil {
		return nil, err
	}

	closers := []func() error{closeStore}

	var notifier queue.Notifier
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := app.InitRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			// requeued jobs are still picked up by polling
			appLogger.Warn("RabbitMQ unavailable, workers will not be woken", slog.Any("error", err))
		} else {
			notifier = queue.NewRabbitNotifier(rabbitClient, appLogger.Component("notifier"))
			closers = append(closers, rabbitClient.Close)
		}
	}

	q := app.NewQueue(cfg, store, notifier, appLogger.Component("queue"))

	return &cli.Env{
		Service: analysis.NewService(&analysis.Config{
			Store:            store,
			Queue:            q,
			Logger:           appLogger.Component("analysis"),
			DedupWindow:      cfg.Analysis.DedupWindow,
			MaxMetadataBytes: cfg.Analysis.MaxMetadataBytes,
		}),
		Introspector: analysis.NewIntrospector(store),
		Queue:        q,
		Store:        store,
		Close: func() error {
			var errs []error
			for i := len(closers) - 1; i >= 0; i-- {
				errs = append(errs, closers[i]())
			}
			errs = append(errs, appLogger.Close())
			return errors.Join(errs...)
		},
	}, nil
}
