package budget

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/store"
)

func newTestController(t *testing.T, hourly, daily int) *Controller {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, store.Migrate(d.Pool))

	return NewController(d.Pool, func(domain.Tier) config.TierBudget {
		return config.TierBudget{Hourly: hourly, Daily: daily}
	})
}

func TestReserveStopsAtCap(t *testing.T) {
	c := newTestController(t, 3, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Reserve(ctx, domain.Tier1)
		require.NoError(t, err)
		assert.True(t, ok, "reservation %d under cap", i+1)
	}

	ok, err := c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	assert.False(t, ok, "hourly cap reached")

	// a different tier has its own windows
	ok, err = c.Reserve(ctx, domain.Tier2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReserveZeroCapAlwaysDefers(t *testing.T) {
	c := newTestController(t, 0, 0)
	ok, err := c.Reserve(context.Background(), domain.Tier3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDailyCapBindsWhenHourlyDoesNot(t *testing.T) {
	c := newTestController(t, 10, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := c.Reserve(ctx, domain.Tier1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	assert.False(t, ok, "daily cap reached even though hourly has room")
}

func TestReleaseReturnsCapacity(t *testing.T) {
	c := newTestController(t, 1, 10)
	ctx := context.Background()

	ok, err := c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Release(ctx, domain.Tier1))

	ok, err = c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	assert.True(t, ok, "released token must be reservable again")
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	c := newTestController(t, 2, 10)
	ctx := context.Background()

	require.NoError(t, c.Release(ctx, domain.Tier1))
	require.NoError(t, c.Release(ctx, domain.Tier1))

	// used floored at 0, so the full cap is still available
	for i := 0; i < 2; i++ {
		ok, err := c.Reserve(ctx, domain.Tier1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentReserveNeverExceedsCap(t *testing.T) {
	const hourlyCap = 5
	c := newTestController(t, hourlyCap, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	granted := make([]bool, 20)
	for i := range granted {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := c.Reserve(ctx, domain.Tier2)
			assert.NoError(t, err)
			granted[i] = ok
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range granted {
		if ok {
			n++
		}
	}
	assert.Equal(t, hourlyCap, n)
}

func TestWindowStartTruncation(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), windowStart("hour", at))
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), windowStart("day", at))
}

func TestStatusReflectsUsage(t *testing.T) {
	c := newTestController(t, 5, 10)
	ctx := context.Background()

	ok, err := c.Reserve(ctx, domain.Tier1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Consume(ctx, domain.Tier1))

	windows, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, windows, 6, "hour and day windows for all three tiers")

	seen := 0
	for _, w := range windows {
		if w.Tier == 1 {
			assert.Equal(t, 1, w.Used)
			assert.Equal(t, 1, w.Consumed)
			seen++
		} else {
			assert.Zero(t, w.Used)
		}
	}
	assert.Equal(t, 2, seen)
}
