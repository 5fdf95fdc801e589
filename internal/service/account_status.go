package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultSuspensionHours = 336

type SuspendInput struct {
	UserID        uuid.UUID
	Reason        string
	DurationHours *int
}

type BanInput struct {
	UserID uuid.UUID
	Reason string
}

// AccountStatusService owns the active / suspended / banned lifecycle. Every
// transition requires a senior_admin actor, never targets a senior_admin and
// never targets the actor.
type AccountStatusService struct {
	users    repository.UserRepository
	sessions *SessionRegistry
	events   *EventLog
	notify   *NotificationDispatcher
	clock    Clock
	log      logrus.FieldLogger
}

func NewAccountStatusService(
	users repository.UserRepository,
	sessions *SessionRegistry,
	events *EventLog,
	notify *NotificationDispatcher,
	clock Clock,
	log logrus.FieldLogger,
) *AccountStatusService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AccountStatusService{
		users:    users,
		sessions: sessions,
		events:   events,
		notify:   notify,
		clock:    clock,
		log:      log,
	}
}

// CheckAccess rejects banned and suspended accounts. A timed suspension that
// has run out is cleared here, on first use after expiry.
func (s *AccountStatusService) CheckAccess(ctx context.Context, user *entity.User) error {
	if user.IsBanned {
		return &BannedError{Reason: deref(user.BanReason)}
	}
	if !user.IsSuspended {
		return nil
	}
	now := nowFrom(s.clock)
	if user.SuspensionExpired(now) {
		if _, err := s.users.ClearExpiredSuspension(ctx, user.ID, now); err != nil {
			return err
		}
		user.IsSuspended = false
		user.SuspensionReason = nil
		user.SuspendedBy = nil
		user.SuspendedAt = nil
		user.SuspensionExpiresAt = nil
		return nil
	}
	return &SuspendedError{Reason: deref(user.SuspensionReason), ExpiresAt: user.SuspensionExpiresAt}
}

func (s *AccountStatusService) Suspend(ctx context.Context, actor Actor, meta RequestMeta, input SuspendInput) (*entity.User, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, ErrInvalidInput
	}
	hours := DefaultSuspensionHours
	if input.DurationHours != nil {
		hours = *input.DurationHours
	}
	if hours <= 0 {
		return nil, ErrInvalidInput
	}
	target, err := s.target(ctx, actor, input.UserID)
	if err != nil {
		return nil, err
	}

	now := nowFrom(s.clock)
	expiresAt := now.Add(time.Duration(hours) * time.Hour)
	if err := s.users.Suspend(ctx, target.ID, actor.ID, reason, now, &expiresAt); err != nil {
		return nil, mapProtected(err)
	}
	s.endSessions(ctx, target.ID)

	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.UserSuspended,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details: map[string]any{
			"targetUserId":   target.ID.String(),
			"targetUsername": target.Username,
			"reason":         reason,
			"durationHours":  hours,
			"expiresAt":      expiresAt,
		},
	})
	s.notify.Dispatch(suspendedNotification(target.Email, reason, &expiresAt))
	return s.reload(ctx, target.ID)
}

func (s *AccountStatusService) Unsuspend(ctx context.Context, actor Actor, meta RequestMeta, userID uuid.UUID) (*entity.User, error) {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.ClearSuspension(ctx, target.ID); err != nil {
		return nil, err
	}
	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.UserUnsuspended,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details:  map[string]any{"targetUserId": target.ID.String(), "targetUsername": target.Username},
	})
	s.notify.Dispatch(unsuspendedNotification(target.Email))
	return s.reload(ctx, target.ID)
}

func (s *AccountStatusService) Ban(ctx context.Context, actor Actor, meta RequestMeta, input BanInput) (*entity.User, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, ErrInvalidInput
	}
	target, err := s.target(ctx, actor, input.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.users.Ban(ctx, target.ID, actor.ID, reason, nowFrom(s.clock)); err != nil {
		return nil, mapProtected(err)
	}
	s.endSessions(ctx, target.ID)

	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.UserBanned,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details: map[string]any{
			"targetUserId":   target.ID.String(),
			"targetUsername": target.Username,
			"reason":         reason,
		},
	})
	s.notify.Dispatch(bannedNotification(target.Email, reason))
	return s.reload(ctx, target.ID)
}

func (s *AccountStatusService) Unban(ctx context.Context, actor Actor, meta RequestMeta, userID uuid.UUID) (*entity.User, error) {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.Unban(ctx, target.ID); err != nil {
		return nil, err
	}
	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.UserUnbanned,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details:  map[string]any{"targetUserId": target.ID.String(), "targetUsername": target.Username},
	})
	s.notify.Dispatch(unbannedNotification(target.Email))
	return s.reload(ctx, target.ID)
}

// ChangeRole moves an account between user and admin. senior_admin can be
// neither granted nor revoked here.
func (s *AccountStatusService) ChangeRole(ctx context.Context, actor Actor, meta RequestMeta, userID uuid.UUID, role entity.UserRole) (*entity.User, error) {
	if role == entity.UserRoleSeniorAdmin {
		return nil, ErrProtectedAccount
	}
	if _, ok := entity.ParseUserRole(string(role)); !ok {
		return nil, ErrInvalidInput
	}
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateRole(ctx, target.ID, role); err != nil {
		return nil, mapProtected(err)
	}
	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.UserRoleChanged,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details: map[string]any{
			"targetUserId":   target.ID.String(),
			"targetUsername": target.Username,
			"from":           target.Role,
			"to":             role,
		},
	})
	return s.reload(ctx, target.ID)
}

func (s *AccountStatusService) Delete(ctx context.Context, actor Actor, meta RequestMeta, userID uuid.UUID) error {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return err
	}
	s.endSessions(ctx, target.ID)
	if err := s.users.Delete(ctx, target.ID); err != nil {
		return mapProtected(err)
	}
	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.UserDeleted,
		UserID:   &actor.ID,
		Username: actor.Username,
		Details:  map[string]any{"targetUserId": target.ID.String(), "targetUsername": target.Username},
	})
	return nil
}

func (s *AccountStatusService) ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *AccountStatusService) target(ctx context.Context, actor Actor, userID uuid.UUID) (*entity.User, error) {
	if actor.Role != entity.UserRoleSeniorAdmin {
		return nil, ErrForbidden
	}
	if userID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if userID == actor.ID {
		return nil, ErrSelfAction
	}
	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrUserNotFound
	}
	if target.IsProtected() {
		return nil, ErrProtectedAccount
	}
	return target, nil
}

func (s *AccountStatusService) reload(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AccountStatusService) endSessions(ctx context.Context, userID uuid.UUID) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RemoveAllForUser(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("session revoke failed")
	}
}

func mapProtected(err error) error {
	if errors.Is(err, repository.ErrProtectedAccount) {
		return ErrProtectedAccount
	}
	return err
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
