package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window int64
	count  int
	reset  time.Time
}

// MemoryLimiter implements a fixed-window in-memory rate limiter. Counters are
// process-local and reset on restart.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*memoryEntry
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*memoryEntry),
	}
}

// Hit records one request for key in the window containing now.
func (l *MemoryLimiter) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || window <= 0 {
		return Result{Allowed: true}, nil
	}
	index := windowIndex(now, window)

	l.mu.Lock()
	entry := l.counters[key]
	if entry == nil || entry.window != index {
		entry = &memoryEntry{window: index, reset: windowReset(index, window)}
		l.counters[key] = entry
	}
	entry.count++
	count := entry.count
	reset := entry.reset
	l.mu.Unlock()

	return buildResult(count, limit, reset), nil
}

// Prune drops counters whose window closed before now.
func (l *MemoryLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.counters {
		if !entry.reset.After(now) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}
