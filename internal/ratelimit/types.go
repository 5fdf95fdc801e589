package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a fixed-window hit.
type Result struct {
	Allowed   bool
	Count     int
	Remaining int
	Reset     time.Time
}

// Limiter counts hits per key in fixed windows. Every hit is counted, allowed
// or not, so callers can derive progressive penalties from Count.
type Limiter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

func windowIndex(now time.Time, window time.Duration) int64 {
	return now.UnixNano() / int64(window)
}

func windowReset(index int64, window time.Duration) time.Time {
	return time.Unix(0, (index+1)*int64(window)).UTC()
}

func buildResult(count int, limit int, reset time.Time) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= limit, Count: count, Remaining: remaining, Reset: reset}
}
