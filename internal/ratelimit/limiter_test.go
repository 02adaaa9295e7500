package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/ratelimit"
)

func TestLimiter_SpacesCalls(t *testing.T) {
	interval := 50 * time.Millisecond
	limiter := ratelimit.New(interval, 0)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	elapsed := time.Since(start)

	// first call is immediate, the next two wait a full interval each
	assert.GreaterOrEqual(t, elapsed, 2*interval)
}

func TestLimiter_SafetyMarginWidensInterval(t *testing.T) {
	limiter := ratelimit.New(100*time.Millisecond, 25*time.Millisecond)
	assert.Equal(t, 125*time.Millisecond, limiter.Interval())
}

func TestLimiter_AllowAfterBurst(t *testing.T) {
	limiter := ratelimit.New(time.Hour, 0)

	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
}

func TestLimiter_WaitHonorsContextCancel(t *testing.T) {
	limiter := ratelimit.New(time.Hour, 0)

	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.Error(t, err)
}
