package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis"
	"github.com/cuongbtq/restaurant-analysis/internal/api/handler"
	"github.com/cuongbtq/restaurant-analysis/internal/api/router"
	"github.com/cuongbtq/restaurant-analysis/internal/app"
	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/cuongbtq/restaurant-analysis/internal/config"
	"github.com/cuongbtq/restaurant-analysis/internal/metrics"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/cuongbtq/restaurant-analysis/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := app.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Bool("embedded_worker", cfg.Worker.Embedded),
		slog.Bool("rabbitmq", cfg.RabbitMQ.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, &cfg.Database, appLogger.Component("jobstore"))
	if err != nil {
		return err
	}
	defer closeStore()

	appLogger.Info("Job store ready")

	m := metrics.New()
	if err := m.RegisterQueueDepth(store, appLogger.Component("metrics")); err != nil {
		return fmt.Errorf("failed to register queue depth metric: %w", err)
	}

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
	responseCache := cache.NewMemory()

	service := analysis.NewService(&analysis.Config{
		Store:            store,
		Queue:            q,
		Cache:            responseCache,
		Observer:         m,
		Logger:           appLogger.Component("analysis"),
		DedupWindow:      cfg.Analysis.DedupWindow,
		MaxMetadataBytes: cfg.Analysis.MaxMetadataBytes,
	})

	r := initRouter(cfg, appLogger.Component("http"), &handler.Dependencies{
		Logger:       appLogger.Component("http"),
		Service:      service,
		Introspector: analysis.NewIntrospector(store),
		Cache:        responseCache,
		Health:       store,
		ServiceName:  cfg.App.Name,
		PendingTTL:   cfg.Cache.PendingTTL,
	}, m)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var embeddedWorker *worker.Worker
	if cfg.Worker.Embedded {
		executor, err := app.NewAnalyzer(&cfg.Analysis, appLogger.Component("analyzer"))
		if err != nil {
			return err
		}
		embeddedWorker = app.NewWorker(cfg, q, executor, m, appLogger.Component("worker"))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		appLogger.Info("Server shutdown complete")
		return nil
	})

	g.Go(func() error {
		return app.NewMaintenance(cfg, q, responseCache, store, appLogger.Component("maintenance")).Start(gctx)
	})

	if embeddedWorker != nil {
		g.Go(func() error {
			return app.RunWorker(gctx, embeddedWorker, cfg.Worker.ShutdownTimeout, appLogger.Component("worker"))
		})

		if rabbitNotifier != nil {
			g.Go(func() error {
				return rabbitNotifier.Run(gctx, "api-"+uuid.NewString())
			})
		}
	}

	appLogger.Info("API service is running", slog.String("address", addr))

	if err := g.Wait(); err != nil {
		appLogger.Error("API service stopped with error", slog.Any("error", err))
		return err
	}
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies, m *metrics.Metrics) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Configuring router",
		slog.Duration("cache_ttl", cfg.Cache.TTL),
		slog.Duration("pending_ttl", cfg.Cache.PendingTTL),
	)

	return router.SetupRouter(deps, router.Options{
		CacheTTL:      cfg.Cache.TTL,
		CORSOrigins:   cfg.Server.CORSOrigins,
		CacheObserver: m,
		Metrics:       m.Handler(),
	})
}
