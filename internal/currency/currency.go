// Package currency converts and formats money amounts. Salon prices are
// whole Kenyan shillings.
package currency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	redis "github.com/redis/go-redis/v9"
)

// Base is the currency every price is stored in.
const Base = "KES"

// ErrRateNotFound is returned when no cached rate exists for a pair.
var ErrRateNotFound = errors.New("exchange rate not found")

// Convert applies rate to amount. Same-currency conversions return amount
// untouched; anything else is rounded to two decimal places.
func Convert(amount float64, from, to string, rate float64) (float64, error) {
	from, to = normalise(from), normalise(to)
	if from == to {
		return amount, nil
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("invalid rate %v for %s->%s", rate, from, to)
	}
	return math.Round(amount*rate*100) / 100, nil
}

// Format renders amount with thousands separators, e.g. "KES 20,000".
func Format(amount int64, code string) string {
	code = normalise(code)
	if code == "" {
		code = Base
	}
	return code + " " + humanize.Comma(amount)
}

// FormatDecimal renders a converted amount with two decimals, e.g. "USD 154.32".
func FormatDecimal(amount float64, code string) string {
	return normalise(code) + " " + humanize.CommafWithDigits(amount, 2)
}

func normalise(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RateCache keeps exchange rates in redis for a bounded time.
type RateCache struct {
	R   redis.Cmdable
	TTL time.Duration
}

func rateKey(from, to string) string {
	return "fx:" + normalise(from) + ":" + normalise(to)
}

// Put stores the rate for from->to.
func (c RateCache) Put(ctx context.Context, from, to string, rate float64) error {
	if c.R == nil {
		return errors.New("rate cache not configured")
	}
	if rate <= 0 {
		return fmt.Errorf("invalid rate %v", rate)
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return c.R.Set(ctx, rateKey(from, to), strconv.FormatFloat(rate, 'f', -1, 64), ttl).Err()
}

// Get returns the cached rate for from->to. Identical currencies always have rate 1.
func (c RateCache) Get(ctx context.Context, from, to string) (float64, error) {
	if normalise(from) == normalise(to) {
		return 1, nil
	}
	if c.R == nil {
		return 0, errors.New("rate cache not configured")
	}
	raw, err := c.R.Get(ctx, rateKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrRateNotFound
	}
	if err != nil {
		return 0, err
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("decode rate: %w", err)
	}
	return rate, nil
}

// ConvertCached converts amount using the cached rate.
func (c RateCache) ConvertCached(ctx context.Context, amount int64, from, to string) (float64, error) {
	rate, err := c.Get(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return Convert(float64(amount), from, to, rate)
}
