package service

import (
	"context"
	"math"
	"strings"
	"time"

	"stockroom/internal/clientinfo"
	"stockroom/internal/entity"
	"stockroom/internal/ratelimit"
	"stockroom/internal/repository"
)

// LimitRule is the per-IP budget for one endpoint. SlowAfter of zero disables
// the progressive delay.
type LimitRule struct {
	Name      string
	Limit     int
	Window    time.Duration
	SlowAfter int
	SlowStep  time.Duration
	SlowMax   time.Duration
}

var (
	LoginLimit = LimitRule{
		Name:      "login",
		Limit:     5,
		Window:    15 * time.Minute,
		SlowAfter: 2,
		SlowStep:  time.Second,
		SlowMax:   10 * time.Second,
	}
	RegisterLimit = LimitRule{
		Name:   "register",
		Limit:  3,
		Window: time.Hour,
	}
)

const (
	registrationWindow       = 24 * time.Hour
	maxRegistrationAttempts  = 5
	maxRegistrationSuccesses = 2
)

type BlockInput struct {
	IPAddress     string
	Reason        string
	DurationHours *int
}

// IPGatekeeper combines the block list, fixed-window rate limits, the login
// slow-down and registration throttling.
type IPGatekeeper struct {
	blocks   repository.BlockedIPRepository
	attempts repository.RegistrationAttemptRepository
	limiter  ratelimit.Limiter
	events   *EventLog
	clock    Clock
}

func NewIPGatekeeper(
	blocks repository.BlockedIPRepository,
	attempts repository.RegistrationAttemptRepository,
	limiter ratelimit.Limiter,
	events *EventLog,
	clock Clock,
) *IPGatekeeper {
	return &IPGatekeeper{
		blocks:   blocks,
		attempts: attempts,
		limiter:  limiter,
		events:   events,
		clock:    clock,
	}
}

// IsBlocked returns the effective block for ip, or nil.
func (g *IPGatekeeper) IsBlocked(ctx context.Context, ip string) (*entity.BlockedIP, error) {
	if ip == "" {
		return nil, nil
	}
	return g.blocks.FindActive(ctx, ip, nowFrom(g.clock))
}

// CheckBlocked returns a *BlockedIPError when ip is on the block list.
func (g *IPGatekeeper) CheckBlocked(ctx context.Context, ip string) error {
	block, err := g.IsBlocked(ctx, ip)
	if err != nil {
		return err
	}
	if block != nil {
		return &BlockedIPError{Reason: block.Reason, Until: block.BlockedUntil}
	}
	return nil
}

// SlowDown counts an attempt against rule's slow-down window and returns how
// long the caller should wait before handling it.
func (g *IPGatekeeper) SlowDown(ctx context.Context, ip string, rule LimitRule) (time.Duration, error) {
	if rule.SlowAfter <= 0 || g.limiter == nil {
		return 0, nil
	}
	result, err := g.limiter.Hit(ctx, "slow:"+rule.Name+":"+ip, math.MaxInt32, rule.Window, nowFrom(g.clock))
	if err != nil {
		return 0, err
	}
	return SlowDownDelay(result.Count, rule), nil
}

// SlowDownDelay is the delay owed by the count-th attempt in a window.
func SlowDownDelay(count int, rule LimitRule) time.Duration {
	over := count - rule.SlowAfter
	if over <= 0 {
		return 0
	}
	delay := time.Duration(over) * rule.SlowStep
	if rule.SlowMax > 0 && delay > rule.SlowMax {
		return rule.SlowMax
	}
	return delay
}

// Allow counts a request against rule and returns a *RateLimitError once the
// window budget is spent. Successful and failed attempts count alike.
func (g *IPGatekeeper) Allow(ctx context.Context, ip string, rule LimitRule) error {
	if g.limiter == nil {
		return nil
	}
	now := nowFrom(g.clock)
	result, err := g.limiter.Hit(ctx, "rate:"+rule.Name+":"+ip, rule.Limit, rule.Window, now)
	if err != nil {
		return err
	}
	if result.Allowed {
		return nil
	}
	retryAfter := result.Reset.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

// BeginRegistration reserves a registration slot for ip under the rolling
// 24h throttle. The slot is counted as a success until FinishRegistration
// reports otherwise, so concurrent sign-ups cannot both slip under the limit.
// A throttled attempt is still recorded and returns ErrRegistrationThrottled.
func (g *IPGatekeeper) BeginRegistration(ctx context.Context, ip string, email string, username string) (*entity.RegistrationAttempt, error) {
	attempt := g.newAttempt(ip, email, username, true)
	allowed, err := g.attempts.Reserve(ctx, attempt, g.registrationLimits())
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrRegistrationThrottled
	}
	return attempt, nil
}

// FinishRegistration downgrades a reserved attempt that did not create an
// account.
func (g *IPGatekeeper) FinishRegistration(ctx context.Context, attempt *entity.RegistrationAttempt, success bool) error {
	if attempt == nil || success {
		return nil
	}
	return g.attempts.MarkFailed(ctx, attempt.ID)
}

// RejectRegistration records an attempt that was refused before reaching the
// account store. It returns ErrRegistrationThrottled when ip was already over
// the limit, so the caller can report the throttle instead of the rejection.
func (g *IPGatekeeper) RejectRegistration(ctx context.Context, ip string, email string, username string) error {
	allowed, err := g.attempts.Reserve(ctx, g.newAttempt(ip, email, username, false), g.registrationLimits())
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRegistrationThrottled
	}
	return nil
}

func (g *IPGatekeeper) newAttempt(ip string, email string, username string, success bool) *entity.RegistrationAttempt {
	return &entity.RegistrationAttempt{
		IPAddress: ip,
		Email:     email,
		Username:  username,
		Success:   success,
		CreatedAt: nowFrom(g.clock),
	}
}

func (g *IPGatekeeper) registrationLimits() repository.RegistrationLimits {
	return repository.RegistrationLimits{
		Since:        nowFrom(g.clock).Add(-registrationWindow),
		MaxTotal:     maxRegistrationAttempts,
		MaxSuccesses: maxRegistrationSuccesses,
	}
}

// Block adds or replaces a block-list entry. A nil duration blocks
// indefinitely.
func (g *IPGatekeeper) Block(ctx context.Context, actor *Actor, meta RequestMeta, input BlockInput) (*entity.BlockedIP, error) {
	ip := strings.TrimSpace(input.IPAddress)
	reason := strings.TrimSpace(input.Reason)
	if !clientinfo.ValidIP(ip) || reason == "" {
		return nil, ErrInvalidInput
	}
	if input.DurationHours != nil && *input.DurationHours <= 0 {
		return nil, ErrInvalidInput
	}
	now := nowFrom(g.clock)
	block := &entity.BlockedIP{
		IPAddress: ip,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.DurationHours != nil {
		until := now.Add(time.Duration(*input.DurationHours) * time.Hour)
		block.BlockedUntil = &until
	}
	event := Event{Meta: meta, Action: entity.IPBlocked, Details: map[string]any{"ip": ip, "reason": reason, "durationHours": input.DurationHours}}
	if actor != nil {
		block.BlockedBy = &actor.ID
		event.UserID = &actor.ID
		event.Username = actor.Username
	}
	if err := g.blocks.Upsert(ctx, block); err != nil {
		return nil, err
	}
	g.events.Record(ctx, event)
	return block, nil
}

func (g *IPGatekeeper) Unblock(ctx context.Context, actor Actor, meta RequestMeta, ip string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ErrInvalidInput
	}
	removed, err := g.blocks.Delete(ctx, ip)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	g.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.IPUnblocked,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details:  map[string]any{"ip": ip},
	})
	return nil
}

func (g *IPGatekeeper) ListBlocked(ctx context.Context) ([]entity.BlockedIP, error) {
	return g.blocks.ListActive(ctx, nowFrom(g.clock))
}

func (g *IPGatekeeper) RemoveExpiredBlocks(ctx context.Context) (int64, error) {
	return g.blocks.DeleteExpired(ctx, nowFrom(g.clock))
}

func (g *IPGatekeeper) PruneRegistrationAttempts(ctx context.Context, maxAge time.Duration) (int64, error) {
	return g.attempts.DeleteOlderThan(ctx, nowFrom(g.clock).Add(-maxAge))
}
