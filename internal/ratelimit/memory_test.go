package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	window := 15 * time.Minute

	for i := 1; i <= 5; i++ {
		res, err := limiter.Hit(ctx, "login:1.2.3.4", 5, window, now)
		if err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d: expected allowed", i)
		}
		if res.Count != i {
			t.Fatalf("hit %d: expected count %d, got %d", i, i, res.Count)
		}
	}

	res, _ := limiter.Hit(ctx, "login:1.2.3.4", 5, window, now.Add(time.Minute))
	if res.Allowed {
		t.Fatalf("expected sixth hit to be rejected")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", res.Remaining)
	}
	if !res.Reset.After(now) {
		t.Fatalf("expected reset after now, got %s", res.Reset)
	}

	res, _ = limiter.Hit(ctx, "login:1.2.3.4", 5, window, now.Add(window))
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("expected fresh window, got %+v", res)
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	limiter.Hit(ctx, "a", 1, time.Minute, now)
	res, _ := limiter.Hit(ctx, "b", 1, time.Minute, now)
	if !res.Allowed {
		t.Fatalf("expected key b to have its own budget")
	}
}

func TestMemoryLimiterPrune(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	limiter.Hit(ctx, "a", 3, time.Minute, now)
	limiter.Hit(ctx, "b", 3, time.Hour, now)

	removed := limiter.Prune(now.Add(2 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 pruned counter, got %d", removed)
	}
}
