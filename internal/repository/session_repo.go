package repository

import (
	"context"
	"errors"
	"time"

	"stockroom/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository interface {
	Replace(ctx context.Context, session *entity.Session) error
	Rotate(ctx context.Context, previousHash string, next *entity.Session) error
	FindByTokenHash(ctx context.Context, hash string) (*entity.Session, error)
	Touch(ctx context.Context, userID uuid.UUID, now time.Time) error
	DeleteByTokenHash(ctx context.Context, hash string) (bool, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
	CountActive(ctx context.Context, since time.Time) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Replace drops whatever session the user holds and stores the new one in a
// single transaction; a login elsewhere therefore revokes the old device.
func (r *sessionRepository) Replace(ctx context.Context, s *entity.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceSession(tx, s)
	})
}

// Rotate consumes the session bound to previousHash and installs next. The
// delete must hit exactly one row: a concurrent rotation or a logout that won
// the race leaves nothing to delete and the caller gets ErrSessionNotFound.
func (r *sessionRepository) Rotate(ctx context.Context, previousHash string, next *entity.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("token_hash = ? AND user_id = ?", previousHash, next.UserID).Delete(&entity.Session{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return replaceSession(tx, next)
	})
}

func replaceSession(tx *gorm.DB, s *entity.Session) error {
	if err := tx.Where("user_id = ?", s.UserID).Delete(&entity.Session{}).Error; err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "token_hash", "ip_address", "user_agent", "created_at", "last_activity"}),
	}).Create(s).Error
}

func (r *sessionRepository) FindByTokenHash(ctx context.Context, hash string) (*entity.Session, error) {
	var session entity.Session
	err := r.db.WithContext(ctx).
		Where("token_hash = ?", hash).
		First(&session).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Touch(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.Session{}).
		Where("user_id = ?", userID).
		Update("last_activity", now).
		Error
}

func (r *sessionRepository) DeleteByTokenHash(ctx context.Context, hash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("token_hash = ?", hash).
		Delete(&entity.Session{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *sessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&entity.Session{}).
		Error
}

func (r *sessionRepository) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_activity < ?", cutoff).
		Delete(&entity.Session{})
	return result.RowsAffected, result.Error
}

func (r *sessionRepository) CountActive(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Session{}).
		Where("last_activity >= ?", since).
		Count(&count).Error
	return count, err
}
