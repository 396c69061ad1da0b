package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists carts.
type Store interface {
	Load(ctx context.Context, id string) (Cart, error)
	Save(ctx context.Context, c Cart) error
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps carts as JSON documents that expire after TTL of inactivity.
type RedisStore struct {
	Client redis.Cmdable
	TTL    time.Duration
}

func cartKey(id string) string { return "cart:" + id }

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

// Load returns the cart or ErrNotFound.
func (s RedisStore) Load(ctx context.Context, id string) (Cart, error) {
	data, err := s.Client.Get(ctx, cartKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cart{}, ErrNotFound
	}
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	return c, nil
}

// Save writes the cart and refreshes its expiry.
func (s RedisStore) Save(ctx context.Context, c Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return s.Client.Set(ctx, cartKey(c.ID), data, s.ttl()).Err()
}

// Delete removes the cart.
func (s RedisStore) Delete(ctx context.Context, id string) error {
	return s.Client.Del(ctx, cartKey(id)).Err()
}
