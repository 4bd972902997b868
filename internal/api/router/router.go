package router

import (
	"net/http"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options holds router settings that are not handler dependencies
type Options struct {
	CacheTTL      time.Duration
	CORSOrigins   []string
	CacheObserver CacheObserver
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.CORSOrigins))

	r.GET("/health", handler.Health(deps))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	analysisHandler := handler.NewAnalysisHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)

	responseCache := CacheMiddleware(deps.Cache, opts.CacheTTL, deps.Logger, opts.CacheObserver)

	analysis := r.Group("/analysis")
	{
		// POST /analysis - Submit a website for analysis
		analysis.POST("", analysisHandler.SubmitAnalysis)

		// GET /analysis/:job_id - Job status and result, served through the response cache
		analysis.GET("/:job_id", responseCache, analysisHandler.GetAnalysis)

		// POST /analysis/:job_id/cancel - Cancel a job
		analysis.POST("/:job_id/cancel", analysisHandler.CancelAnalysis)
	}

	admin := r.Group("/admin/queue")
	{
		// GET /admin/queue/stats - Job counts per state
		admin.GET("/stats", queueHandler.GetStats)

		// GET /admin/queue/dead-letters - Dead-lettered jobs, newest first
		admin.GET("/dead-letters", queueHandler.ListDeadLetters)
	}

	return r
}
