// Package ratelimit throttles callers: a global per-IP budget through
// ulule/limiter and a Redis sliding window for hot endpoints such as
// discount validation.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/salon-labs/internal/common"
)

// KeyFunc names the bucket a request counts against. An empty key skips
// limiting for that request.
type KeyFunc func(*http.Request) string

// Config is one sliding-window budget.
type Config struct {
	Key    KeyFunc
	Window time.Duration
	Max    int
}

// ByClientIP buckets callers by address within scope.
func ByClientIP(scope string) KeyFunc {
	return func(r *http.Request) string {
		return scope + ":" + common.ClientIP(r)
	}
}

// ByUserOrIP buckets signed-in callers by user id and everyone else by address.
func ByUserOrIP(scope string) KeyFunc {
	return func(r *http.Request) string {
		if id, ok := common.UserID(r.Context()); ok && id != "" {
			return scope + ":user:" + id
		}
		return scope + ":" + common.ClientIP(r)
	}
}

// Handler applies Config in front of a route. When Redis is unreachable the
// request goes through and OnError hears about it.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		if h.Config.Key != nil {
			key = h.Config.Key(r)
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		d, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeLimitHeaders(w.Header(), d)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		secs := int(d.RetryAfter(h.Limiter.now()) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later",
			map[string]any{"retryAfterSeconds": secs})
	})
}

func writeLimitHeaders(h http.Header, d Decision) {
	limit := d.Limit
	if limit < 0 {
		limit = 0
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
