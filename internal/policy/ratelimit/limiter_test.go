package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitThrottles(t *testing.T) {
	t.Parallel()

	var delays atomic.Int32
	l := New(Config{
		DefaultRPS:   10, // one token every 100ms
		DefaultBurst: 1,
		OnDelay:      func(string, time.Duration) { delays.Add(1) },
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "grid"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "grid"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.EqualValues(t, 1, delays.Load())

	// A different key has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "other"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "grid"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "grid"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "grid"))
	}
}
