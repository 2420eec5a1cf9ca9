package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenThrottled(t *testing.T) {
	limiter := NewLimiter(2.0, 2)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "api.massive.com"))
	require.NoError(t, limiter.Wait(ctx, "api.massive.com"))

	stats := limiter.Stats()["api.massive.com"]
	assert.True(t, stats.Throttled, "burst exhausted")
	assert.Less(t, stats.TokensAvailable, 1.0)
}

func TestLimiter_MultipleHosts(t *testing.T) {
	limiter := NewLimiter(1.0, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "host1"))
	stats := limiter.Stats()
	require.Len(t, stats, 1)
	assert.True(t, stats["host1"].Throttled)

	require.NoError(t, limiter.Wait(ctx, "host2"))
	stats = limiter.Stats()
	require.Len(t, stats, 2)
	assert.True(t, stats["host2"].Throttled)
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10.0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx, "host"))
	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "host"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	require.NoError(t, limiter.Wait(context.Background(), "host"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "host"))
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(ctx, "host"))
	}

	stats := limiter.Stats()["host"]
	assert.True(t, stats.Unlimited)
	assert.False(t, stats.Throttled)
	assert.Equal(t, 0.0, stats.RPS)

	_, err := json.Marshal(limiter.Stats())
	assert.NoError(t, err, "unlimited stats must stay JSON-encodable")
}

func TestLimiter_Stats(t *testing.T) {
	limiter := NewLimiter(5, 3)
	require.NoError(t, limiter.Wait(context.Background(), "host"))

	stats := limiter.Stats()
	require.Contains(t, stats, "host")
	assert.Equal(t, 5.0, stats["host"].RPS)
	assert.Equal(t, 3, stats["host"].Burst)
	assert.InDelta(t, 2.0, stats["host"].TokensAvailable, 0.1)
	assert.False(t, stats["host"].Throttled)
	assert.False(t, stats["host"].Unlimited)
}
