package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (r *countingReaper) RecoverExpired(context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

type recordingPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPurger) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 2, p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_PurgeRetentionUsesCutoff(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	purger := &recordingPurger{}

	s := New(&Config{
		Logger:    testLogger(),
		Store:     purger,
		Retention: 7 * 24 * time.Hour,
		Now:       func() time.Time { return now },
	})
	s.PurgeRetention(context.Background())

	require.Len(t, purger.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), purger.cutoffs[0])
}

func TestScheduler_PurgeCacheDropsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := cache.NewMemoryWithClock(func() time.Time { return now })
	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("b"), time.Hour))

	now = now.Add(time.Minute)
	New(&Config{Logger: testLogger(), Cache: c}).PurgeCache(ctx)

	assert.Equal(t, 1, c.Len())
}

func TestScheduler_TaskErrorsAreLogged(t *testing.T) {
	reaper := &countingReaper{err: errors.New("database is locked")}
	purger := &recordingPurger{err: errors.New("database is locked")}

	s := New(&Config{Logger: testLogger(), Reaper: reaper, Store: purger, Retention: time.Hour})

	assert.NotPanics(t, func() {
		s.ReapExpiredLeases(context.Background())
		s.PurgeRetention(context.Background())
	})
	assert.Equal(t, int32(1), reaper.calls.Load())
}

func TestScheduler_StartRunsTasksUntilCancelled(t *testing.T) {
	reaper := &countingReaper{}
	s := New(&Config{
		Logger:       testLogger(),
		Reaper:       reaper,
		ReapInterval: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		return reaper.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledTasksAreSkipped(t *testing.T) {
	reaper := &countingReaper{}
	s := New(&Config{Logger: testLogger(), Reaper: reaper})

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	assert.Zero(t, reaper.calls.Load())
}
