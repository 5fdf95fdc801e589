package service

import (
	"context"
	"time"

	"stockroom/internal/ratelimit"
	"stockroom/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	EventRetention               = 90 * 24 * time.Hour
	RegistrationAttemptRetention = 7 * 24 * time.Hour
	AutoBlockDuration            = 24
	AutoBlockReason              = "automatic: suspicious activity"
	autoBlockLookback            = time.Hour
)

type SweepReport struct {
	IdleSessions         int64
	ExpiredBlocks        int64
	ExpiredEvents        int64
	RegistrationAttempts int64
	RateCounters         int
	AutoBlocked          int
}

// MaintenanceService performs periodic hygiene. Skipping a run only delays
// cleanup; nothing depends on it for correctness.
type MaintenanceService struct {
	sessions   *SessionRegistry
	gatekeeper *IPGatekeeper
	analytics  *SecurityAnalyticsService
	events     repository.SecurityEventRepository
	limiter    *ratelimit.Manager
	clock      Clock
	log        logrus.FieldLogger
	autoBlock  bool
}

func NewMaintenanceService(
	sessions *SessionRegistry,
	gatekeeper *IPGatekeeper,
	analytics *SecurityAnalyticsService,
	events repository.SecurityEventRepository,
	limiter *ratelimit.Manager,
	clock Clock,
	log logrus.FieldLogger,
	autoBlock bool,
) *MaintenanceService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MaintenanceService{
		sessions:   sessions,
		gatekeeper: gatekeeper,
		analytics:  analytics,
		events:     events,
		limiter:    limiter,
		clock:      clock,
		log:        log,
		autoBlock:  autoBlock,
	}
}

// Sweep runs every cleanup step. A failing step is logged and the rest still
// run; the first error is returned.
func (m *MaintenanceService) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var firstErr error
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		m.log.WithError(err).WithField("step", step).Error("maintenance sweep step failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	now := nowFrom(m.clock)

	var err error
	report.IdleSessions, err = m.sessions.SweepIdle(ctx, DefaultSessionIdleTimeout)
	keep("idle_sessions", err)

	report.ExpiredBlocks, err = m.gatekeeper.RemoveExpiredBlocks(ctx)
	keep("expired_blocks", err)

	report.ExpiredEvents, err = m.events.DeleteOlderThan(ctx, now.Add(-EventRetention))
	keep("event_retention", err)

	report.RegistrationAttempts, err = m.gatekeeper.PruneRegistrationAttempts(ctx, RegistrationAttemptRetention)
	keep("registration_attempts", err)

	if m.limiter != nil {
		report.RateCounters = m.limiter.Prune(now)
	}

	if m.autoBlock {
		report.AutoBlocked, err = m.blockSuspicious(ctx, now)
		keep("auto_block", err)
	}

	m.log.WithFields(logrus.Fields{
		"idle_sessions":         report.IdleSessions,
		"expired_blocks":        report.ExpiredBlocks,
		"expired_events":        report.ExpiredEvents,
		"registration_attempts": report.RegistrationAttempts,
		"rate_counters":         report.RateCounters,
		"auto_blocked":          report.AutoBlocked,
	}).Info("maintenance sweep finished")
	return report, firstErr
}

func (m *MaintenanceService) blockSuspicious(ctx context.Context, now time.Time) (int, error) {
	ips, err := m.analytics.SuspiciousIPs(ctx, now.Add(-autoBlockLookback))
	if err != nil {
		return 0, err
	}
	blocked := 0
	duration := AutoBlockDuration
	for _, activity := range ips {
		existing, err := m.gatekeeper.IsBlocked(ctx, activity.IPAddress)
		if err != nil {
			return blocked, err
		}
		if existing != nil {
			continue
		}
		_, err = m.gatekeeper.Block(ctx, nil, RequestMeta{IPAddress: activity.IPAddress}, BlockInput{
			IPAddress:     activity.IPAddress,
			Reason:        AutoBlockReason,
			DurationHours: &duration,
		})
		if err != nil {
			m.log.WithError(err).WithField("ip", activity.IPAddress).Warn("auto block skipped")
			continue
		}
		blocked++
	}
	return blocked, nil
}
