package cache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache() (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryWithClock(clock.Now), clock
}

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), time.Minute))

	value, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), value)
}

func TestMemory_ExpiredEntryIsMiss(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		found   bool
	}{
		{name: "before expiry", advance: 59 * time.Second, found: true},
		{name: "exactly at expiry", advance: time.Minute, found: false},
		{name: "after expiry", advance: time.Hour, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, clock := newTestCache()

			require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
			clock.Advance(tt.advance)

			_, found, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestMemory_GetDoesNotSlideExpiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		_, found, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
	}

	clock.Advance(10 * time.Second)
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache()

	require.NoError(t, c.Set(ctx, "k", []byte("old"), time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, c.Set(ctx, "k", []byte("new"), time.Minute))
	clock.Advance(50 * time.Second)

	value, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("new"), value)
}

func TestMemory_SetRejectsNonPositiveTTL(t *testing.T) {
	c, _ := newTestCache()

	err := c.Set(context.Background(), "k", []byte("v"), 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestMemory_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	original := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", original, time.Minute))
	original[0] = 'z'

	value, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), value)

	value[1] = 'z'
	again, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_DeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "gone", []byte("3"), time.Hour))
	require.NoError(t, c.Delete(ctx, "gone"))

	clock.Advance(time.Minute)

	removed, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, found, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%8)
				_ = c.Set(ctx, key, []byte(fmt.Sprintf("%d-%d", n, j)), time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, c.Len())
}

func TestRequestKey(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		rawURL   string
		expected string
	}{
		{name: "plain path", method: "GET", rawURL: "/analysis/j1", expected: "GET /analysis/j1"},
		{name: "trailing slash trimmed", method: "get", rawURL: "/analysis/j1/", expected: "GET /analysis/j1"},
		{name: "root path", method: "GET", rawURL: "/", expected: "GET /"},
		{name: "query sorted", method: "GET", rawURL: "/x?b=2&a=1", expected: "GET /x?a=1&b=2"},
		{name: "host ignored", method: "GET", rawURL: "http://api.local:8080/x", expected: "GET /x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.rawURL)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, RequestKey(tt.method, u))
		})
	}
}

func TestRequestKey_SameForEquivalentQueries(t *testing.T) {
	a, _ := url.Parse("/x?z=1&a=2&a=1")
	b, _ := url.Parse("/x?a=1&a=2&z=1")
	assert.Equal(t, RequestKey("GET", a), RequestKey("GET", b))
}

func TestStatusKey(t *testing.T) {
	u, err := url.Parse("http://api.internal/analysis/j1")
	require.NoError(t, err)

	assert.Equal(t, "GET /analysis/j1", StatusKey("j1"))
	assert.Equal(t, RequestKey("GET", u), StatusKey("j1"))
}
