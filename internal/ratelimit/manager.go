package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Manager prefers the shared Redis backend and falls back to process memory
// while Redis is unreachable.
type Manager struct {
	shared       Limiter
	memory       *MemoryLimiter
	log          logrus.FieldLogger
	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. A nil shared limiter means memory only.
func NewManager(shared Limiter, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		shared: shared,
		memory: NewMemoryLimiter(),
		log:    log,
	}
}

// Hit counts a request using the best available backend.
func (m *Manager) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if m == nil {
		return Result{Allowed: true}, nil
	}
	if m.shared != nil && !m.isBreakerActive(now) {
		result, err := m.shared.Hit(ctx, key, limit, window, now)
		if err == nil {
			return result, nil
		}
		m.tripBreaker(err, now)
	}
	return m.memory.Hit(ctx, key, limit, window, now)
}

// Prune drops expired in-memory counters.
func (m *Manager) Prune(now time.Time) int {
	if m == nil {
		return 0
	}
	return m.memory.Prune(now)
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	m.log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}
