// Package lock serialises booking, cart and checkout mutations across API
// replicas with Redis leases.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when MaxWait elapses before the key is free.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLeaseLost is returned by Refresh once another holder owns the key.
	ErrLeaseLost = errors.New("lock: lease lost")
)

// Both scripts act only while the key still carries our token.
var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])`)
)

// Client is the subset of redis commands the locker uses. *redis.Client satisfies it.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Locker hands out leases on Redis keys.
type Locker struct {
	R            Client
	RetryBackoff time.Duration
	// MaxWait bounds how long Acquire polls. Zero waits until ctx is done.
	MaxWait time.Duration
}

// Lease is a held key. The zero value holds nothing.
type Lease struct {
	r     Client
	key   string
	token string
	ttl   time.Duration
}

// BookingKey names the lease guarding one booking.
func BookingKey(bookingID string) string { return "lock:booking:" + bookingID }

// CartKey names the lease guarding one cart.
func CartKey(cartID string) string { return "lock:cart:" + cartID }

// CheckoutKey names the lease guarding one customer's checkout.
func CheckoutKey(userID string) string { return "lock:checkout:" + userID }

// Acquire polls SET NX until key is free, ctx ends or MaxWait passes.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	step := l.RetryBackoff
	if step <= 0 {
		step = 50 * time.Millisecond
	}
	waitCtx := ctx
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.MaxWait)
		defer cancel()
	}

	lease := &Lease{r: l.R, key: key, token: uuid.NewString(), ttl: ttl}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, lease.token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return lease, nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-ticker.C:
		}
	}
}

// Refresh pushes the expiry out by the lease TTL.
func (ls *Lease) Refresh(ctx context.Context) error {
	if ls == nil || ls.r == nil {
		return ErrLeaseLost
	}
	n, err := extendScript.Run(ctx, ls.r, []string{ls.key}, ls.token, ls.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the key if this lease still owns it. It uses its own short
// deadline so a cancelled request still unlocks.
func (ls *Lease) Release() {
	if ls == nil || ls.r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = unlockScript.Run(ctx, ls.r, []string{ls.key}, ls.token).Err()
}

// WithLock runs fn under a lease on key. The lease is refreshed every half
// TTL while fn runs and released when it returns, whatever the outcome.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer lease.Release()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		keepAlive(ctx, lease, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()
	return fn(ctx)
}

func keepAlive(ctx context.Context, lease *Lease, stop <-chan struct{}) {
	every := lease.ttl / 2
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lease.Refresh(ctx); err != nil {
				return
			}
		}
	}
}
