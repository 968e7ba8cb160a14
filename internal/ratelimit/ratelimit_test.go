package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitEnforcesDelay(t *testing.T) {
	r := NewSimpleRateLimiter(30*time.Millisecond, 30*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, r.Wait(ctx))

	// Second wait must observe the configured spacing.
	start := time.Now()
	require.NoError(t, r.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWaitRandomizedRange(t *testing.T) {
	r := NewSimpleRateLimiter(10*time.Millisecond, 20*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, r.Wait(ctx))

	start := time.Now()
	require.NoError(t, r.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 9*time.Millisecond)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestWaitRespectsContext(t *testing.T) {
	r := NewSimpleRateLimiter(time.Second, time.Second)

	ctx := context.Background()
	require.NoError(t, r.Wait(ctx))

	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	err := r.Wait(cancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetDelay(t *testing.T) {
	r := NewSimpleRateLimiter(time.Second, time.Second)
	r.SetDelay(time.Millisecond, time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, r.Wait(ctx))
	require.NoError(t, r.Wait(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
