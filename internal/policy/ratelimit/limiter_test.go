package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 requests per second = 100ms interval, one token up front.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "domain B blocked unexpectedly")
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example/again")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit wait")
	require.False(t, errors.Is(err, context.Canceled))
}

func TestLimiter_OverridesAndUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS: 0,
		Overrides:  map[string]float64{"Slow.Example": 2},
	})
	require.Equal(t, rate.Inf, l.limiterFor("fast.example").Limit())
	require.Equal(t, rate.Limit(2), l.limiterFor("slow.example").Limit())
	require.Same(t, l.limiterFor("slow.example"), l.limiterFor("slow.example"))
}
