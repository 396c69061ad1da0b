package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// windowScript trims entries older than the window and records the hit only
// when there is room, so rejected calls do not extend a lockout. It returns
// {admitted, count, oldestMillis}.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local span = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - span)
local count = redis.call("ZCARD", key)
local admitted = 0
if count < max then
  redis.call("ZADD", key, now, ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call("PEXPIRE", key, span)
local oldest = now
local head = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if head[2] then
  oldest = tonumber(head[2])
end
return {admitted, count, oldest}`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted hit leaves the window.
	ResetAt time.Time
}

// RetryAfter is how long a rejected caller should wait, rounded up to seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1) / time.Second * time.Second
}

// Limiter counts hits per key in a sliding window kept in a Redis sorted set.
type Limiter struct {
	Client redis.Cmdable
	Prefix string
	Now    func() time.Time
}

func (l Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow records a hit on key when fewer than max hits fall inside window.
// Without a client or with a non-positive window or max every hit passes.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	now := l.now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}, nil
	}

	nowMs := now.UnixMilli()
	res, err := windowScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMs, window.Milliseconds(), max, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{Limit: max, ResetAt: now.Add(window)}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{Limit: max, ResetAt: now.Add(window)}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	remaining := max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[2]).Add(window).In(now.Location()),
	}, nil
}
