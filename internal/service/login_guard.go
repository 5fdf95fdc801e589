package service

import (
	"context"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"
)

const (
	MaxFailedLoginAttempts = 5
	LockoutDuration        = 30 * time.Minute
)

// FailedLoginGuard drives per-account lockout. Counting happens in a single
// conditional UPDATE so concurrent failures cannot both miss the threshold.
type FailedLoginGuard struct {
	users     repository.UserRepository
	clock     Clock
	threshold int
	lockFor   time.Duration
}

func NewFailedLoginGuard(users repository.UserRepository, clock Clock) *FailedLoginGuard {
	return &FailedLoginGuard{
		users:     users,
		clock:     clock,
		threshold: MaxFailedLoginAttempts,
		lockFor:   LockoutDuration,
	}
}

// Check returns a *LockedError while the account's lock is in force.
func (g *FailedLoginGuard) Check(user *entity.User) error {
	now := nowFrom(g.clock)
	if user.IsLocked(now) {
		return &LockedError{Until: *user.LockedUntil}
	}
	return nil
}

// RecordFailure counts one bad password and returns the updated account.
func (g *FailedLoginGuard) RecordFailure(ctx context.Context, user *entity.User) (*entity.User, error) {
	return g.users.RecordFailedLogin(ctx, user.ID, nowFrom(g.clock), g.threshold, g.lockFor)
}

func (g *FailedLoginGuard) RecordSuccess(ctx context.Context, user *entity.User, ipAddress string) error {
	return g.users.RecordSuccessfulLogin(ctx, user.ID, stringPtr(ipAddress), nowFrom(g.clock))
}

func (g *FailedLoginGuard) CountLocked(ctx context.Context) (int64, error) {
	return g.users.CountLocked(ctx, nowFrom(g.clock))
}
