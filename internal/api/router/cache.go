package router

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/api/handler"
	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/gin-gonic/gin"
)

const cacheHeader = "X-Cache"

// CacheObserver is told whether each cacheable request was a hit
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

type noopCacheObserver struct{}

func (noopCacheObserver) ObserveCacheLookup(bool) {}

// cachedResponse is the stored form of a 200 response
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// captureWriter copies the body while it is written to the client
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// CacheMiddleware memoizes successful GET responses for ttl. Cache failures are logged
// and attached to the request errors; they never change what the client receives.
func CacheMiddleware(store cache.Cache, ttl time.Duration, logger *slog.Logger, observer CacheObserver) gin.HandlerFunc {
	if observer == nil {
		observer = noopCacheObserver{}
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := cache.RequestKey(c.Request.Method, c.Request.URL)

		data, found, err := store.Get(ctx, key)
		if err != nil {
			logger.Warn("Cache lookup failed", slog.String("key", key), slog.Any("error", err))
			_ = c.Error(err)
		}
		if found {
			var cached cachedResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				observer.ObserveCacheLookup(true)
				c.Header(cacheHeader, "HIT")
				c.Data(cached.Status, cached.ContentType, cached.Body)
				c.Abort()
				return
			}
			logger.Warn("Discarding undecodable cache entry", slog.String("key", key))
		}

		observer.ObserveCacheLookup(false)
		c.Header(cacheHeader, "MISS")

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		if writer.Status() != http.StatusOK {
			return
		}

		entryTTL := ttl
		if v, ok := c.Get(handler.CacheTTLKey); ok {
			if override, ok := v.(time.Duration); ok && override > 0 && override < entryTTL {
				entryTTL = override
			}
		}

		payload, err := json.Marshal(cachedResponse{
			Status:      http.StatusOK,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		})
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := store.Set(ctx, key, payload, entryTTL); err != nil {
			logger.Warn("Cache store failed", slog.String("key", key), slog.Any("error", err))
			_ = c.Error(err)
		}
	}
}
