package analyzer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"golang.org/x/time/rate"
)

// Config holds outbound fetch settings
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// RateLimit is requests per second across all workers of the process; 0 disables throttling
	RateLimit float64
	Burst     int
}

// Summarizer produces a short prose description of an analyzed page
type Summarizer interface {
	Summarize(ctx context.Context, page *Page) (string, error)
}

// Analyzer fetches a restaurant website and extracts what a rebuild needs.
// It only reads from the site, so re-running it after a lost lease is harmless.
type Analyzer struct {
	client     *http.Client
	limiter    *rate.Limiter
	config     Config
	summarizer Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an analyzer; summarizer may be nil
func New(config Config, summarizer Summarizer, logger *slog.Logger) *Analyzer {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 2 << 20
	}

	return &Analyzer{
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:    rate.NewLimiter(limit, max(config.Burst, 1)),
		config:     config,
		summarizer: summarizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Analyze runs one attempt for the job's URL
func (a *Analyzer) Analyze(ctx context.Context, job *domain.Job) (domain.Metadata, error) {
	page, err := a.fetch(ctx, job.InputURL)
	if err != nil {
		return nil, err
	}

	result := page.Metadata()
	result["analyzed_at"] = a.now().UTC().Format(time.RFC3339)

	if a.summarizer != nil {
		summary, err := a.summarizer.Summarize(ctx, page)
		if err != nil {
			// the extraction is still useful without a summary
			a.logger.Warn("Failed to summarize page",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		} else if summary != "" {
			result["summary"] = summary
		}
	}

	return result, nil
}

func (a *Analyzer) fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewPermanentError(fmt.Errorf("invalid url: %w", err))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if a.config.UserAgent != "" {
		req.Header.Set("User-Agent", a.config.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, domain.NewPermanentError(fmt.Errorf("unsupported content type %q", resp.Header.Get("Content-Type")))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxBodyBytes))
	if err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("read body: %w", err))
	}

	page, err := ParsePage(resp.Request.URL, body)
	if err != nil {
		return nil, domain.NewPermanentError(err)
	}
	page.StatusCode = resp.StatusCode
	return page, nil
}

// classifyStatus maps a response status onto the retry taxonomy
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return domain.NewTransientError(fmt.Errorf("site responded %d", code))
	case code >= 500:
		return domain.NewTransientError(fmt.Errorf("site responded %d", code))
	default:
		return domain.NewPermanentError(fmt.Errorf("site responded %d", code))
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
