package cache

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
)

// ErrInvalidTTL is returned when Set is called with a non-positive TTL
var ErrInvalidTTL = errors.New("cache ttl must be positive")

// Cache stores opaque payloads with a per-entry TTL
type Cache interface {
	// Get returns found=false when the key is absent or expired. It never extends expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set overwrites any prior entry and expires it at now+ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Purge drops expired entries and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// Entry is a single cached value
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry must be treated as absent at now
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RequestKey derives the idempotency key of a read-only request from its method and URL.
// Host is ignored so the key is stable behind proxies; the query is sorted.
func RequestKey(method string, u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	key := strings.ToUpper(method) + " " + path
	if q := domain.SortedQuery(u.Query()); q != "" {
		key += "?" + q
	}
	return key
}

// StatusPrefix is the route prefix of the job status endpoint
const StatusPrefix = "/analysis/"

// StatusKey is the key of the cached GET response for a job's status
func StatusKey(jobID string) string {
	return RequestKey("GET", &url.URL{Path: StatusPrefix + jobID})
}

// SubmissionKey is the key under which the latest job for a normalized URL is remembered
func SubmissionKey(dedupKey string) string {
	return "submit:" + dedupKey
}
