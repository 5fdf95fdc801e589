package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiterCountsAcrossInstances(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	first := NewRedisLimiter(client, "rl")
	second := NewRedisLimiter(client, "rl")

	for i := 0; i < 3; i++ {
		if _, err := first.Hit(ctx, "register:9.9.9.9", 3, time.Hour, now); err != nil {
			t.Fatalf("hit: %v", err)
		}
	}
	res, err := second.Hit(ctx, "register:9.9.9.9", 3, time.Hour, now)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected shared counter to reject the fourth hit")
	}
	if res.Count != 4 {
		t.Fatalf("expected count 4, got %d", res.Count)
	}
}

func TestRedisLimiterSetsExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewRedisLimiter(client, "rl")

	if _, err := limiter.Hit(ctx, "k", 5, time.Minute, now); err != nil {
		t.Fatalf("hit: %v", err)
	}
	key := limiter.buildKey("k", windowIndex(now, time.Minute))
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("expected ttl on %s, got %s", key, ttl)
	}
}

func TestManagerFallsBackToMemory(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	manager := NewManager(NewRedisLimiter(client, "rl"), nil)

	mr.Close()

	res, err := manager.Hit(ctx, "k", 1, time.Minute, now)
	if err != nil {
		t.Fatalf("expected fallback without error, got %v", err)
	}
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("expected memory counter, got %+v", res)
	}
	if !manager.isBreakerActive(now.Add(time.Second)) {
		t.Fatalf("expected breaker to be active")
	}
	res, _ = manager.Hit(ctx, "k", 1, time.Minute, now.Add(time.Second))
	if res.Allowed {
		t.Fatalf("expected memory limiter to keep counting while breaker is open")
	}
}
