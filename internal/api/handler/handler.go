package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis"
	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/gin-gonic/gin"
)

// CacheTTLKey is the gin context key a handler sets to shorten the cache TTL of its response
const CacheTTLKey = "cache_ttl"

// HealthChecker reports whether the job store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Service      *analysis.Service
	Introspector *analysis.Introspector
	// Cache backs the GET response cache
	Cache        cache.Cache
	Health       HealthChecker
	ServiceName  string
	// PendingTTL caches status of jobs that are still moving for a shorter time
	PendingTTL time.Duration
}

// AnalysisHandler handles website analysis requests
type AnalysisHandler struct {
	logger     *slog.Logger
	service    *analysis.Service
	pendingTTL time.Duration
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:     deps.Logger,
		service:    deps.Service,
		pendingTTL: deps.PendingTTL,
	}
}

// QueueHandler serves read-only queue introspection
type QueueHandler struct {
	logger       *slog.Logger
	introspector *analysis.Introspector
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:       deps.Logger,
		introspector: deps.Introspector,
	}
}

// Health handles GET /health
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Health.Ping(ctx); err != nil {
			deps.Logger.Error("Health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": deps.ServiceName,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	}
}

// respondError maps domain errors onto status codes. Internal details are logged, never returned.
func respondError(c *gin.Context, logger *slog.Logger, err error, fallback string) {
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "job is already finished"})
	case errors.Is(err, domain.ErrQueueUnavailable):
		logger.Error("Analysis queue unavailable", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis queue unavailable, retry later"})
	default:
		logger.Error(fallback, slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
