package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLimiterSlidesOldHitsOut(t *testing.T) {
	_, client := newRedis(t)
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	l := Limiter{Client: client, Prefix: "rl:", Now: func() time.Time { return now }}
	ctx := context.Background()

	d, err := l.Allow(ctx, "code", 10*time.Second, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.True(t, now.Add(10*time.Second).Equal(d.ResetAt))
	require.Equal(t, time.UTC, d.ResetAt.Location())

	now = now.Add(4 * time.Second)
	d, err = l.Allow(ctx, "code", 10*time.Second, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Zero(t, d.Remaining)

	now = now.Add(4 * time.Second)
	d, err = l.Allow(ctx, "code", 10*time.Second, 2)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	// the first hit at t0 frees a slot at t0+10s
	require.Equal(t, 2*time.Second, d.RetryAfter(now))

	now = now.Add(2 * time.Second)
	d, err = l.Allow(ctx, "code", 10*time.Second, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLimiterRejectionsDoNotConsumeSlots(t *testing.T) {
	mr, client := newRedis(t)
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	l := Limiter{Client: client, Prefix: "rl:", Now: func() time.Time { return now }}
	ctx := context.Background()

	_, err := l.Allow(ctx, "spam", time.Minute, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		d, err := l.Allow(ctx, "spam", time.Minute, 1)
		require.NoError(t, err)
		require.False(t, d.Allowed)
	}
	members, err := mr.ZMembers("rl:spam")
	require.NoError(t, err)
	require.Len(t, members, 1)

	now = now.Add(56 * time.Second)
	d, err := l.Allow(ctx, "spam", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	d, err := Limiter{}.Allow(context.Background(), "k", time.Second, 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 3, d.Remaining)
}

func TestDecisionRetryAfterRoundsUp(t *testing.T) {
	now := time.Unix(1000, 0)
	d := Decision{ResetAt: now.Add(1500 * time.Millisecond)}
	require.Equal(t, 2*time.Second, d.RetryAfter(now))
	require.Zero(t, d.RetryAfter(now.Add(time.Hour)))
}
