package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/pkg/clock"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(c)
	ctx := context.Background()
	key := "a@example.com|10.0.0.1"

	for i := 1; i <= 5; i++ {
		count, err := l.Hit(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	tooMany, err := l.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.True(t, tooMany)

	c.Advance(45 * time.Second)
	available, err := l.AvailableIn(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, available)

	c.Advance(15 * time.Second)
	tooMany, err = l.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.False(t, tooMany, "window closes exactly at its expiry")
}

func TestMemoryLimiter_Clear(t *testing.T) {
	l := NewMemoryLimiter(clock.NewFixed(time.Now()))
	ctx := context.Background()

	_, _ = l.Hit(ctx, "k", time.Minute)
	_, _ = l.Hit(ctx, "k", time.Minute)
	require.NoError(t, l.Clear(ctx, "k"))

	count, err := l.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryLimiter_SweepsAbandonedKeys(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(c)
	l.sweepEvery = 4
	ctx := context.Background()

	for _, key := range []string{"x@example.com|10.0.0.1", "y@example.com|10.0.0.2", "z@example.com|10.0.0.3"} {
		_, err := l.Hit(ctx, key, time.Minute)
		require.NoError(t, err)
	}
	assert.Len(t, l.windows, 3)

	c.Advance(2 * time.Minute)
	_, err := l.Hit(ctx, "fresh@example.com|10.0.0.4", time.Minute)
	require.NoError(t, err)

	assert.Len(t, l.windows, 1, "expired windows for keys never seen again are dropped")
	_, ok := l.windows["fresh@example.com|10.0.0.4"]
	assert.True(t, ok)
}

func TestSecondsUntil(t *testing.T) {
	assert.Equal(t, 60, SecondsUntil(60*time.Second))
	assert.Equal(t, 2, SecondsUntil(1500*time.Millisecond))
	assert.Equal(t, 1, SecondsUntil(10*time.Millisecond))
	assert.Equal(t, 1, SecondsUntil(0))
}
