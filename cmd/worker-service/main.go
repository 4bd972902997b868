package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/app"
	"github.com/cuongbtq/restaurant-analysis/internal/config"
	"github.com/cuongbtq/restaurant-analysis/internal/metrics"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address for the /metrics endpoint, empty to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := app.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := app.WorkerID(cfg.Worker.ID)
	cfg.Worker.ID = workerID

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, &cfg.Database, appLogger.Component("jobstore"))
	if err != nil {
		return err
	}
	defer closeStore()

	appLogger.Info("Job store ready")

	var notifier queue.Notifier
	var rabbitNotifier *queue.RabbitNotifier
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := app.InitRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")
		rabbitNotifier = queue.NewRabbitNotifier(rabbitClient, appLogger.Component("notifier"))
		notifier = rabbitNotifier
	}

	q := app.NewQueue(cfg, store, notifier, appLogger.Component("queue"))

	executor, err := app.NewAnalyzer(&cfg.Analysis, appLogger.Component("analyzer"))
	if err != nil {
		return err
	}

	m := metrics.New()
	workerInstance := app.NewWorker(cfg, q, executor, m, appLogger.Component("worker"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.RunWorker(gctx, workerInstance, cfg.Worker.ShutdownTimeout, appLogger.Component("worker"))
	})

	g.Go(func() error {
		return app.NewMaintenance(cfg, q, nil, store, appLogger.Component("maintenance")).Start(gctx)
	})

	if rabbitNotifier != nil {
		g.Go(func() error {
			return rabbitNotifier.Run(gctx, workerID)
		})
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service stopped")
	return nil
}
