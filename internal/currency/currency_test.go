package currency_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/currency"
)

func TestConvert(t *testing.T) {
	got, err := currency.Convert(20000, "kes", "KES", 0)
	require.NoError(t, err)
	require.Equal(t, float64(20000), got)

	got, err = currency.Convert(20000, "KES", "USD", 0.0077161)
	require.NoError(t, err)
	require.Equal(t, 154.32, got)

	_, err = currency.Convert(100, "KES", "USD", 0)
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "KES 20,000", currency.Format(20000, "KES"))
	require.Equal(t, "KES 1,234,567", currency.Format(1234567, ""))
	require.Equal(t, "KES 500", currency.Format(500, "kes"))
	require.Equal(t, "USD 154.32", currency.FormatDecimal(154.32, "usd"))
}

func TestRateCacheRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := currency.RateCache{R: redis.NewClient(&redis.Options{Addr: mr.Addr()}), TTL: time.Minute}
	ctx := context.Background()

	_, err := cache.Get(ctx, "KES", "USD")
	require.ErrorIs(t, err, currency.ErrRateNotFound)

	require.NoError(t, cache.Put(ctx, "kes", "usd", 0.0077161))
	rate, err := cache.Get(ctx, "KES", "USD")
	require.NoError(t, err)
	require.InDelta(t, 0.0077161, rate, 1e-12)

	converted, err := cache.ConvertCached(ctx, 20000, "KES", "USD")
	require.NoError(t, err)
	require.Equal(t, 154.32, converted)

	same, err := cache.Get(ctx, "KES", "kes")
	require.NoError(t, err)
	require.Equal(t, float64(1), same)

	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "KES", "USD")
	require.ErrorIs(t, err, currency.ErrRateNotFound)
}
