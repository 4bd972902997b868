package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis"
	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/api/dto"
	"github.com/cuongbtq/restaurant-analysis/internal/api/handler"
	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
	"github.com/cuongbtq/restaurant-analysis/internal/metrics"
	"github.com/cuongbtq/restaurant-analysis/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts reads of single jobs so tests can prove the cache answered
type countingStore struct {
	*jobstore.Memory
	gets    atomic.Int32
	failing atomic.Bool
}

func (s *countingStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	s.gets.Add(1)
	return s.Memory.Get(ctx, jobID)
}

func (s *countingStore) Create(ctx context.Context, job *domain.Job) error {
	if s.failing.Load() {
		return errors.New("connection refused")
	}
	return s.Memory.Create(ctx, job)
}

func (s *countingStore) Ping(ctx context.Context) error {
	if s.failing.Load() {
		return errors.New("connection refused")
	}
	return s.Memory.Ping(ctx)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	engine  *gin.Engine
	store   *countingStore
	queue   *queue.Queue
	clock   *testClock
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &countingStore{Memory: jobstore.NewMemory()}
	responseCache := cache.NewMemoryWithClock(clock.Now)
	m := metrics.New()

	q := queue.New(&queue.Config{
		Store: store,
		Policy: queue.Policy{
			MaxAttempts:   3,
			BackoffBase:   time.Second,
			BackoffCap:    time.Minute,
			LeaseDuration: time.Minute,
		},
		Logger: logger,
		Now:    clock.Now,
	})

	var ids atomic.Int32
	service := analysis.NewService(&analysis.Config{
		Store:            store,
		Queue:            q,
		Cache:            responseCache,
		Observer:         m,
		Logger:           logger,
		DedupWindow:      10 * time.Minute,
		MaxMetadataBytes: 1024,
		NewID: func() string {
			return fmt.Sprintf("j%d", ids.Add(1))
		},
		Now: clock.Now,
	})

	deps := &handler.Dependencies{
		Logger:       logger,
		Service:      service,
		Introspector: analysis.NewIntrospector(store),
		Cache:        responseCache,
		Health:       store,
		ServiceName:  "analysis-api",
		PendingTTL:   2 * time.Second,
	}
	engine := SetupRouter(deps, Options{
		CacheTTL:      300 * time.Second,
		CacheObserver: m,
		Metrics:       m.Handler(),
	})

	return &testServer{engine: engine, store: store, queue: q, clock: clock, metrics: m}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, url string) string {
	t.Helper()
	w := s.do(http.MethodPost, "/analysis", `{"url":"`+url+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp dto.SubmitAnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.JobID
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) dto.AnalysisStatusResponse {
	t.Helper()
	var resp dto.AnalysisStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSubmitAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		failStore  bool
		wantStatus int
		wantError  string
	}{
		{
			name:       "accepted",
			body:       `{"url":"https://example-restaurant.com","metadata":{"restaurant_id":"r-1"}}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing url",
			body:       `{"metadata":{}}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "url is required",
		},
		{
			name:       "malformed json",
			body:       `{"url":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported scheme",
			body:       `{"url":"ftp://example-restaurant.com"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid url",
		},
		{
			name:       "metadata too large",
			body:       `{"url":"https://example-restaurant.com","metadata":{"notes":"` + strings.Repeat("x", 2048) + `"}}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid metadata",
		},
		{
			name:       "store unavailable",
			body:       `{"url":"https://example-restaurant.com"}`,
			failStore:  true,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.store.failing.Store(tt.failStore)

			w := s.do(http.MethodPost, "/analysis", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusAccepted {
				var resp dto.SubmitAnalysisResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "j1", resp.JobID)
				assert.Equal(t, "Pending", resp.State)
				assert.False(t, resp.Deduplicated)
				return
			}

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.wantError)
		})
	}
}

func TestSubmitAnalysis_Deduplicates(t *testing.T) {
	s := newTestServer(t)

	first := s.submit(t, "https://example-restaurant.com")
	w := s.do(http.MethodPost, "/analysis", `{"url":"https://EXAMPLE-restaurant.com/"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.SubmitAnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, first, resp.JobID)
	assert.True(t, resp.Deduplicated)
}

func TestGetAnalysis_ServedFromCache(t *testing.T) {
	s := newTestServer(t)
	jobID := s.submit(t, "https://example-restaurant.com")
	s.store.gets.Store(0)

	first := s.do(http.MethodGet, "/analysis/"+jobID, "")
	second := s.do(http.MethodGet, "/analysis/"+jobID, "")

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), s.store.gets.Load())

	status := decodeStatus(t, first)
	assert.Equal(t, "j1", status.JobID)
	assert.Equal(t, "Pending", status.State)
	assert.Equal(t, 0, status.Attempt)
	assert.Equal(t, 3, status.MaxAttempts)
	assert.Nil(t, status.Result)
}

func TestGetAnalysis_PendingStatusUsesShortTTL(t *testing.T) {
	s := newTestServer(t)
	jobID := s.submit(t, "https://example-restaurant.com")

	require.Equal(t, "MISS", s.do(http.MethodGet, "/analysis/"+jobID, "").Header().Get("X-Cache"))

	ctx := context.Background()
	job, err := s.queue.TryDequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, s.queue.Ack(ctx, job, domain.Metadata{"title": "Example Restaurant"}))

	// still the stale Pending body until the short TTL runs out
	stale := s.do(http.MethodGet, "/analysis/"+jobID, "")
	assert.Equal(t, "HIT", stale.Header().Get("X-Cache"))
	assert.Equal(t, "Pending", decodeStatus(t, stale).State)

	s.clock.Advance(3 * time.Second)
	fresh := s.do(http.MethodGet, "/analysis/"+jobID, "")
	assert.Equal(t, "MISS", fresh.Header().Get("X-Cache"))
	status := decodeStatus(t, fresh)
	assert.Equal(t, "Succeeded", status.State)
	assert.Equal(t, "Example Restaurant", status.Result["title"])

	// terminal results keep the full TTL
	s.clock.Advance(time.Minute)
	assert.Equal(t, "HIT", s.do(http.MethodGet, "/analysis/"+jobID, "").Header().Get("X-Cache"))
}

func TestGetAnalysis_NotFoundIsNotCached(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodGet, "/analysis/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	}
}

func TestCancelAnalysis(t *testing.T) {
	s := newTestServer(t)
	jobID := s.submit(t, "https://example-restaurant.com")

	require.Equal(t, "MISS", s.do(http.MethodGet, "/analysis/"+jobID, "").Header().Get("X-Cache"))

	w := s.do(http.MethodPost, "/analysis/"+jobID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp dto.CancelAnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Cancelled", resp.State)

	after := s.do(http.MethodGet, "/analysis/"+jobID, "")
	assert.Equal(t, "MISS", after.Header().Get("X-Cache"))
	assert.Equal(t, "Cancelled", decodeStatus(t, after).State)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/analysis/"+jobID+"/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/analysis/missing/cancel", "").Code)
}

func TestQueueAdmin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	deadID := s.submit(t, "https://gone.example")
	s.submit(t, "https://example-restaurant.com")

	job, err := s.queue.TryDequeue(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, deadID, job.JobID)
	_, err = s.queue.Nack(ctx, job, domain.NewPermanentError(errors.New("site responded 404")))
	require.NoError(t, err)

	t.Run("stats", func(t *testing.T) {
		w := s.do(http.MethodGet, "/admin/queue/stats", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.QueueStatsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, 1, resp.Counts["Pending"])
		assert.Equal(t, 1, resp.Counts["DeadLettered"])
		assert.Equal(t, 0, resp.Counts["Leased"])
		assert.Empty(t, w.Header().Get("X-Cache"))
	})

	t.Run("dead letters", func(t *testing.T) {
		w := s.do(http.MethodGet, "/admin/queue/dead-letters?page_size=10", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListDeadLettersResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 1)
		assert.Equal(t, deadID, resp.Jobs[0].JobID)
		assert.Equal(t, "https://gone.example", resp.Jobs[0].URL)
		assert.Equal(t, 1, resp.Jobs[0].Attempt)
		assert.Contains(t, resp.Jobs[0].LastError, "404")
		assert.Empty(t, resp.NextCursor)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		w := s.do(http.MethodGet, "/admin/queue/dead-letters?cursor=%25%25", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid page size", func(t *testing.T) {
		w := s.do(http.MethodGet, "/admin/queue/dead-letters?page_size=ten", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)

	s.store.failing.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	jobID := s.submit(t, "https://example-restaurant.com")
	s.do(http.MethodGet, "/analysis/"+jobID, "")
	s.do(http.MethodGet, "/analysis/"+jobID, "")

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `analysis_http_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `analysis_http_cache_lookups_total{result="miss"} 1`)
	assert.Contains(t, body, `analysis_submissions_total{outcome="created"} 1`)
}

func TestRequestIDMiddleware(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{name: "wildcard", origins: []string{"*"}, origin: "https://app.example", wantHeader: "*"},
		{name: "listed origin", origins: []string{"https://app.example"}, origin: "https://app.example", wantHeader: "https://app.example"},
		{name: "unlisted origin", origins: []string{"https://app.example"}, origin: "https://evil.example", wantHeader: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORSMiddleware(tt.origins))
			r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

			req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.wantHeader, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
