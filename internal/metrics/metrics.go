package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analysis"

// Metrics holds the collectors of one process on a private registry
type Metrics struct {
	registry     *prometheus.Registry
	submissions  *prometheus.CounterVec
	jobOutcomes  *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Analysis submissions by outcome.",
		}, []string{"outcome"}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_attempts_total",
			Help:      "Finished job attempts by resulting state.",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_attempt_duration_seconds",
			Help:      "Wall time of job attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"state"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_cache_lookups_total",
			Help:      "HTTP response cache lookups by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.jobOutcomes,
		m.jobDuration,
		m.cacheLookups,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveSubmission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// ObserveJob records a finished attempt
func (m *Metrics) ObserveJob(state domain.JobState, elapsed time.Duration) {
	m.jobOutcomes.WithLabelValues(state.String()).Inc()
	m.jobDuration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// StateCounter is anything that can report job counts per state
type StateCounter interface {
	CountByState(ctx context.Context) (map[domain.JobState]int, error)
}

// RegisterQueueDepth exposes per-state job counts read at scrape time
func (m *Metrics) RegisterQueueDepth(counter StateCounter, logger *slog.Logger) error {
	return m.registry.Register(&queueDepthCollector{
		counter: counter,
		logger:  logger,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "jobs"),
			"Jobs currently in each state.",
			[]string{"state"}, nil,
		),
	})
}

type queueDepthCollector struct {
	counter StateCounter
	logger  *slog.Logger
	desc    *prometheus.Desc
}

func (c *queueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := c.counter.CountByState(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect queue depth", slog.Any("error", err))
		return
	}

	for _, state := range domain.AllJobStates {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[state]), state.String())
	}
}
