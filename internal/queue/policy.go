package queue

import (
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
)

// Policy holds the retry and lease knobs of the queue
type Policy struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	LeaseDuration time.Duration
}

// Backoff returns min(base * 2^(attempt-1), cap)
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffCap || delay <= 0 {
			return p.BackoffCap
		}
	}
	return min(delay, p.BackoffCap)
}

// RetryAt decides where a failed attempt goes: nil means dead-letter
func (p Policy) RetryAt(job *domain.Job, permanent bool, now time.Time) *time.Time {
	if permanent || job.Attempt >= job.MaxAttempts {
		return nil
	}
	at := now.Add(p.Backoff(job.Attempt))
	return &at
}
