package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadLetter(t *testing.T, store jobstore.Store, id string, at time.Time) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, domain.NewJob(id, "https://"+id+".example", id, 1, nil, at)))
	job, err := store.Lease(ctx, "w1", at, time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, job.JobID)
	require.NoError(t, store.Fail(ctx, id, "w1", "permanent error: gone", nil, at))
}

func TestIntrospector_StatsZeroFilled(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	deadLetter(t, store, "d1", now)
	require.NoError(t, store.Create(ctx, domain.NewJob("p1", "https://p1.example", "p1", 3, nil, now)))
	require.NoError(t, store.Create(ctx, domain.NewJob("p2", "https://p2.example", "p2", 3, nil, now)))

	stats, err := NewIntrospector(store).Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Len(t, stats.Counts, len(domain.AllJobStates))
	assert.Equal(t, 2, stats.Counts[domain.JobStatePending])
	assert.Equal(t, 1, stats.Counts[domain.JobStateDeadLettered])
	assert.Equal(t, 0, stats.Counts[domain.JobStateLeased])
	assert.Equal(t, 0, stats.Counts[domain.JobStateSucceeded])
}

func TestIntrospector_DeadLettersPaginates(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		deadLetter(t, store, fmt.Sprintf("d%d", i), base.Add(time.Duration(i)*time.Second))
	}
	introspector := NewIntrospector(store)

	var seen []string
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5, "pagination did not terminate")

		page, err := introspector.DeadLetters(ctx, cursor, 2)
		require.NoError(t, err)
		for _, dl := range page.Jobs {
			seen = append(seen, dl.JobID)
			assert.Equal(t, "permanent error: gone", dl.LastError)
			assert.Equal(t, 1, dl.Attempt)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []string{"d4", "d3", "d2", "d1", "d0"}, seen)
}

func TestIntrospector_DeadLettersPageSize(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		deadLetter(t, store, fmt.Sprintf("d%d", i), base.Add(time.Duration(i)*time.Second))
	}
	introspector := NewIntrospector(store)

	tests := []struct {
		name     string
		pageSize int
		wantLen  int
		wantNext bool
	}{
		{name: "default", pageSize: 0, wantLen: 3},
		{name: "negative uses default", pageSize: -1, wantLen: 3},
		{name: "exact", pageSize: 3, wantLen: 3},
		{name: "smaller", pageSize: 1, wantLen: 1, wantNext: true},
		{name: "clamped", pageSize: MaxPageSize * 10, wantLen: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := introspector.DeadLetters(ctx, "", tt.pageSize)
			require.NoError(t, err)
			assert.Len(t, page.Jobs, tt.wantLen)
			assert.Equal(t, tt.wantNext, page.NextCursor != "")
		})
	}
}

func TestIntrospector_DeadLettersInvalidCursor(t *testing.T) {
	_, err := NewIntrospector(jobstore.NewMemory()).DeadLetters(context.Background(), "%%%", 10)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

type brokenStore struct {
	*jobstore.Memory
}

func (brokenStore) CountByState(context.Context) (map[domain.JobState]int, error) {
	return nil, errors.New("database is closed")
}

func TestIntrospector_StatsStoreError(t *testing.T) {
	_, err := NewIntrospector(brokenStore{Memory: jobstore.NewMemory()}).Stats(context.Background())
	assert.ErrorContains(t, err, "database is closed")
}

func TestJobCursor(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	encoded := EncodeJobCursor(&jobstore.JobCursor{UpdatedAt: at, JobID: "j1"})

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.True(t, at.Equal(decoded.UpdatedAt))
	assert.Equal(t, "j1", decoded.JobID)

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	invalid := []string{
		"not base64!",
		"bm8tc2VwYXJhdG9y", // "no-separator"
		"YWJjfGox",         // "abc|j1"
		"MTIzfA",           // "123|"
	}
	for _, c := range invalid {
		_, err := DecodeJobCursor(c)
		assert.Error(t, err, c)
	}
}
