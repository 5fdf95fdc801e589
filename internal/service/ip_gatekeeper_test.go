package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockroom/internal/entity"
)

func TestSlowDownDelay(t *testing.T) {
	cases := []struct {
		count int
		want  time.Duration
	}{
		{1, 0},
		{2, 0},
		{3, time.Second},
		{5, 3 * time.Second},
		{12, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := SlowDownDelay(tc.count, LoginLimit); got != tc.want {
			t.Fatalf("count %d: got %v, want %v", tc.count, got, tc.want)
		}
	}
	if got := SlowDownDelay(10, RegisterLimit); got != 0 {
		t.Fatalf("register rule has no slow-down, got %v", got)
	}
}

func TestAllowEnforcesFixedWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ip := "203.0.113.7"

	for i := 0; i < LoginLimit.Limit; i++ {
		if err := h.gatekeeper.Allow(ctx, ip, LoginLimit); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	err := h.gatekeeper.Allow(ctx, ip, LoginLimit)
	var limited *RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if limited.RetryAfter < time.Second || limited.RetryAfter > LoginLimit.Window {
		t.Fatalf("unexpected retry after %v", limited.RetryAfter)
	}
	if err := h.gatekeeper.Allow(ctx, "203.0.113.8", LoginLimit); err != nil {
		t.Fatalf("other ip should pass: %v", err)
	}
	if err := h.gatekeeper.Allow(ctx, ip, RegisterLimit); err != nil {
		t.Fatalf("other rule should pass: %v", err)
	}

	h.clock.Advance(LoginLimit.Window)
	if err := h.gatekeeper.Allow(ctx, ip, LoginLimit); err != nil {
		t.Fatalf("expected new window, got %v", err)
	}
}

func TestSlowDownCountsPerWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var delays []time.Duration
	for i := 0; i < 4; i++ {
		delay, err := h.gatekeeper.SlowDown(ctx, "203.0.113.20", LoginLimit)
		if err != nil {
			t.Fatalf("slow down: %v", err)
		}
		delays = append(delays, delay)
	}
	want := []time.Duration{0, 0, time.Second, 2 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}

func TestBlockAndUnblock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	actor := actorFor(root)

	if _, err := h.gatekeeper.Block(ctx, &actor, browserA, BlockInput{IPAddress: "not-an-ip", Reason: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	hours := 1
	if _, err := h.gatekeeper.Block(ctx, &actor, browserA, BlockInput{IPAddress: "203.0.113.9", Reason: "abuse", DurationHours: &hours}); err != nil {
		t.Fatalf("block: %v", err)
	}
	err := h.gatekeeper.CheckBlocked(ctx, "203.0.113.9")
	var blocked *BlockedIPError
	if !errors.As(err, &blocked) || blocked.Reason != "abuse" || blocked.Until == nil {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if err := h.gatekeeper.CheckBlocked(ctx, "203.0.113.10"); err != nil {
		t.Fatalf("unrelated ip blocked: %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	if err := h.gatekeeper.CheckBlocked(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("expected expired block to lapse, got %v", err)
	}

	if _, err := h.gatekeeper.Block(ctx, &actor, browserA, BlockInput{IPAddress: "2001:db8::1", Reason: "scanner"}); err != nil {
		t.Fatalf("indefinite block: %v", err)
	}
	h.clock.Advance(10 * 365 * 24 * time.Hour)
	if err := h.gatekeeper.CheckBlocked(ctx, "2001:db8::1"); !errors.Is(err, ErrIPBlocked) {
		t.Fatalf("expected indefinite block to hold, got %v", err)
	}
	active, err := h.gatekeeper.ListBlocked(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("list blocked: %v %d", err, len(active))
	}

	if err := h.gatekeeper.Unblock(ctx, actor, browserA, "2001:db8::1"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if err := h.gatekeeper.Unblock(ctx, actor, browserA, "2001:db8::1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second unblock: expected not found, got %v", err)
	}
}
