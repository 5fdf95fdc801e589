package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter is a per-IP token bucket. Besides guarding routes it answers
// whether an address is currently over its allowance, which feeds the
// high-request-rate risk signal.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
}

// NewRateLimiter refills r tokens per second up to burst. Buckets unused for
// idle are dropped.
func NewRateLimiter(r rate.Limit, burst int, idle time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		idle:    idle,
	}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.take(c.RealIP()) {
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusTooManyRequests, map[string]any{"message": "too many requests", "retryAfter": 1})
			}
			return next(c)
		}
	}
}

// Observe counts a request from ip without rejecting it.
func (l *RateLimiter) Observe() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l.take(c.RealIP())
			return next(c)
		}
	}
}

// Saturated reports whether ip has drained its bucket.
func (l *RateLimiter) Saturated(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	l.mu.Unlock()
	return ok && b.limiter.Tokens() < 1
}

func (l *RateLimiter) take(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	l.sweep(now)
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// sweep drops idle buckets at most once per idle period. Caller holds mu.
func (l *RateLimiter) sweep(now time.Time) {
	if l.idle <= 0 || now.Sub(l.swept) < l.idle {
		return
	}
	l.swept = now
	cutoff := now.Add(-l.idle)
	for ip, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}
