package service

import (
	"context"
	"encoding/json"
	"time"

	"stockroom/internal/clientinfo"
	"stockroom/internal/entity"
	"stockroom/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	failureLookback   = 15 * time.Minute
	flaggedIPLookback = 24 * time.Hour
	eventWriteTimeout = 5 * time.Second
)

var failureActions = []entity.SecurityAction{
	entity.LoginFailed,
	entity.TwoFactorFailed,
	entity.RefreshRejected,
}

// RateProbe reports whether an address is currently sending requests faster
// than its allowance.
type RateProbe interface {
	Saturated(ip string) bool
}

// Event describes one security-relevant outcome to be recorded.
type Event struct {
	Meta       RequestMeta
	Action     entity.SecurityAction
	UserID     *uuid.UUID
	Username   string
	Details    map[string]any
	GeoAnomaly bool
}

// EventLog scores and appends security events. Record never fails the
// caller; store errors are logged and dropped.
type EventLog struct {
	events  repository.SecurityEventRepository
	blocks  repository.BlockedIPRepository
	rate    RateProbe
	locator clientinfo.Locator
	clock   Clock
	log     logrus.FieldLogger
}

func NewEventLog(
	events repository.SecurityEventRepository,
	blocks repository.BlockedIPRepository,
	rate RateProbe,
	locator clientinfo.Locator,
	clock Clock,
	log logrus.FieldLogger,
) *EventLog {
	if locator == nil {
		locator = clientinfo.NetworkLocator{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventLog{
		events:  events,
		blocks:  blocks,
		rate:    rate,
		locator: locator,
		clock:   clock,
		log:     log,
	}
}

// Record writes event and returns the stored row, or nil if it could not be
// written. The write survives cancellation of the triggering request.
func (l *EventLog) Record(ctx context.Context, event Event) *entity.SecurityEvent {
	if l == nil || l.events == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventWriteTimeout)
	defer cancel()

	signals := l.collectSignals(ctx, event)
	score := ScoreRisk(signals)

	details := make(map[string]any, len(event.Details)+1)
	for key, value := range event.Details {
		details[key] = value
	}
	if score > 0 {
		details["signals"] = signals
	}

	row := &entity.SecurityEvent{
		UserID:    event.UserID,
		Username:  event.Username,
		IPAddress: event.Meta.IPAddress,
		UserAgent: event.Meta.UserAgent,
		Action:    event.Action,
		Details:   l.marshal(details),
		RiskScore: score,
		Location:  l.marshal(l.locator.Locate(event.Meta.IPAddress)),
		CreatedAt: nowFrom(l.clock),
	}
	if err := l.events.Create(ctx, row); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"action": event.Action,
			"ip":     event.Meta.IPAddress,
		}).Error("security event write failed")
		return nil
	}
	if score >= HighRiskThreshold {
		l.log.WithFields(logrus.Fields{
			"action":     event.Action,
			"ip":         event.Meta.IPAddress,
			"username":   event.Username,
			"risk_score": score,
		}).Warn("high risk security event")
	}
	return row
}

// Signals computes the risk inputs for a request without recording anything.
func (l *EventLog) Signals(ctx context.Context, event Event) RiskSignals {
	return l.collectSignals(ctx, event)
}

func (l *EventLog) collectSignals(ctx context.Context, event Event) RiskSignals {
	agent := clientinfo.ParseUserAgent(event.Meta.UserAgent)
	signals := RiskSignals{
		BotUserAgent:        agent.IsBot,
		SuspiciousUserAgent: agent.IsSuspicious,
		GeoAnomaly:          event.GeoAnomaly,
	}
	ip := event.Meta.IPAddress
	if ip == "" {
		return signals
	}
	now := nowFrom(l.clock)

	failures, err := l.events.CountByIP(ctx, ip, failureActions, now.Add(-failureLookback))
	if err != nil {
		l.log.WithError(err).Warn("risk signal: failure count")
	}
	signals.RecentFailures = int(failures)

	signals.FlaggedIP = l.isFlagged(ctx, ip, now)
	if l.rate != nil {
		signals.HighRequestRate = l.rate.Saturated(ip)
	}
	return signals
}

func (l *EventLog) isFlagged(ctx context.Context, ip string, now time.Time) bool {
	if l.blocks != nil {
		exists, err := l.blocks.Exists(ctx, ip)
		if err != nil {
			l.log.WithError(err).Warn("risk signal: block lookup")
		}
		if exists {
			return true
		}
	}
	flagged, err := l.events.HasHighRiskFromIP(ctx, ip, HighRiskThreshold, now.Add(-flaggedIPLookback))
	if err != nil {
		l.log.WithError(err).Warn("risk signal: high risk lookup")
	}
	return flagged
}

func (l *EventLog) marshal(value any) datatypes.JSON {
	bytes, err := json.Marshal(value)
	if err != nil {
		l.log.WithError(err).Warn("security event payload")
		return nil
	}
	return datatypes.JSON(bytes)
}
