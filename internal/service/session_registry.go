package service

import (
	"context"
	"errors"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"
	"stockroom/internal/utils"

	"github.com/google/uuid"
)

const DefaultSessionIdleTimeout = time.Hour

// SessionRegistry keeps the single live refresh-token binding per account.
// Tokens are stored as hashes, never raw.
type SessionRegistry struct {
	sessions repository.SessionRepository
	clock    Clock
}

func NewSessionRegistry(sessions repository.SessionRepository, clock Clock) *SessionRegistry {
	return &SessionRegistry{sessions: sessions, clock: clock}
}

// Put replaces whatever session user had with a new one bound to
// refreshToken. Any device holding the previous token is logged out.
func (r *SessionRegistry) Put(ctx context.Context, user *entity.User, refreshToken string, meta RequestMeta) (*entity.Session, error) {
	session := r.newSession(user, refreshToken, meta)
	if err := r.sessions.Replace(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Rotate swaps previousToken for nextToken. It fails with ErrInvalidToken if
// previousToken is no longer the user's live session, which makes every
// refresh token single-use.
func (r *SessionRegistry) Rotate(ctx context.Context, user *entity.User, previousToken string, nextToken string, meta RequestMeta) (*entity.Session, error) {
	session := r.newSession(user, nextToken, meta)
	err := r.sessions.Rotate(ctx, utils.HashToken(previousToken), session)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionRegistry) FindByToken(ctx context.Context, refreshToken string) (*entity.Session, error) {
	return r.sessions.FindByTokenHash(ctx, utils.HashToken(refreshToken))
}

func (r *SessionRegistry) Touch(ctx context.Context, userID uuid.UUID) error {
	return r.sessions.Touch(ctx, userID, nowFrom(r.clock))
}

// RemoveByToken deletes the session bound to refreshToken and reports whether
// one existed.
func (r *SessionRegistry) RemoveByToken(ctx context.Context, refreshToken string) (bool, error) {
	return r.sessions.DeleteByTokenHash(ctx, utils.HashToken(refreshToken))
}

func (r *SessionRegistry) RemoveAllForUser(ctx context.Context, userID uuid.UUID) error {
	return r.sessions.DeleteByUser(ctx, userID)
}

// SweepIdle deletes sessions whose last activity is older than maxAge.
func (r *SessionRegistry) SweepIdle(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultSessionIdleTimeout
	}
	return r.sessions.DeleteIdle(ctx, nowFrom(r.clock).Add(-maxAge))
}

func (r *SessionRegistry) CountActive(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultSessionIdleTimeout
	}
	return r.sessions.CountActive(ctx, nowFrom(r.clock).Add(-maxAge))
}

func (r *SessionRegistry) newSession(user *entity.User, refreshToken string, meta RequestMeta) *entity.Session {
	now := nowFrom(r.clock)
	return &entity.Session{
		UserID:       user.ID,
		Username:     user.Username,
		TokenHash:    utils.HashToken(refreshToken),
		IPAddress:    stringPtr(meta.IPAddress),
		UserAgent:    stringPtr(meta.UserAgent),
		CreatedAt:    now,
		LastActivity: now,
	}
}
