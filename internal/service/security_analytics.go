package service

import (
	"context"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"
)

const (
	DefaultAnalyticsWindow   = 24 * time.Hour
	SuspiciousAvgRisk        = 0.5
	SuspiciousMinEvents      = 10
	suspiciousEventListLimit = 50
	topIPLimit               = 10
)

type SecurityAnalytics struct {
	Since          time.Time
	EventsByAction []repository.ActionCount
	TopIPs         []repository.IPActivity
	ActiveSessions int64
	LockedAccounts int64
	BlockedIPs     int
}

type SuspiciousActivity struct {
	Since          time.Time
	SuspiciousIPs  []repository.IPActivity
	HighRiskEvents []entity.SecurityEvent
}

// SecurityAnalyticsService answers operator questions over the event log.
type SecurityAnalyticsService struct {
	events     repository.SecurityEventRepository
	sessions   *SessionRegistry
	guard      *FailedLoginGuard
	gatekeeper *IPGatekeeper
	clock      Clock
}

func NewSecurityAnalyticsService(
	events repository.SecurityEventRepository,
	sessions *SessionRegistry,
	guard *FailedLoginGuard,
	gatekeeper *IPGatekeeper,
	clock Clock,
) *SecurityAnalyticsService {
	return &SecurityAnalyticsService{
		events:     events,
		sessions:   sessions,
		guard:      guard,
		gatekeeper: gatekeeper,
		clock:      clock,
	}
}

func (s *SecurityAnalyticsService) Analytics(ctx context.Context, window time.Duration) (*SecurityAnalytics, error) {
	since := s.since(window)
	byAction, err := s.events.CountByAction(ctx, since)
	if err != nil {
		return nil, err
	}
	topIPs, err := s.events.TopIPs(ctx, since, topIPLimit)
	if err != nil {
		return nil, err
	}
	active, err := s.sessions.CountActive(ctx, DefaultSessionIdleTimeout)
	if err != nil {
		return nil, err
	}
	locked, err := s.guard.CountLocked(ctx)
	if err != nil {
		return nil, err
	}
	blocked, err := s.gatekeeper.ListBlocked(ctx)
	if err != nil {
		return nil, err
	}
	return &SecurityAnalytics{
		Since:          since,
		EventsByAction: byAction,
		TopIPs:         topIPs,
		ActiveSessions: active,
		LockedAccounts: locked,
		BlockedIPs:     len(blocked),
	}, nil
}

// SuspiciousActivity lists addresses whose average risk exceeds
// SuspiciousAvgRisk or whose event count exceeds SuspiciousMinEvents, along
// with recent high-risk events.
func (s *SecurityAnalyticsService) SuspiciousActivity(ctx context.Context, window time.Duration) (*SuspiciousActivity, error) {
	since := s.since(window)
	ips, err := s.SuspiciousIPs(ctx, since)
	if err != nil {
		return nil, err
	}
	events, err := s.events.Recent(ctx, since, HighRiskThreshold, suspiciousEventListLimit)
	if err != nil {
		return nil, err
	}
	return &SuspiciousActivity{Since: since, SuspiciousIPs: ips, HighRiskEvents: events}, nil
}

func (s *SecurityAnalyticsService) SuspiciousIPs(ctx context.Context, since time.Time) ([]repository.IPActivity, error) {
	return s.events.SuspiciousIPs(ctx, since, SuspiciousAvgRisk, SuspiciousMinEvents)
}

func (s *SecurityAnalyticsService) since(window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultAnalyticsWindow
	}
	return nowFrom(s.clock).Add(-window)
}
