package repository

import (
	"context"
	"errors"
	"time"

	"stockroom/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	VerifyEmail(ctx context.Context, userID uuid.UUID, now time.Time) error
	RecordFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, threshold int, lockFor time.Duration) (*entity.User, error)
	RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID, ipAddress *string, now time.Time) error
	Suspend(ctx context.Context, userID uuid.UUID, actorID uuid.UUID, reason string, now time.Time, expiresAt *time.Time) error
	ClearSuspension(ctx context.Context, userID uuid.UUID) error
	ClearExpiredSuspension(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)
	Ban(ctx context.Context, userID uuid.UUID, actorID uuid.UUID, reason string, now time.Time) error
	Unban(ctx context.Context, userID uuid.UUID) error
	UpdateRole(ctx context.Context, userID uuid.UUID, role entity.UserRole) error
	Delete(ctx context.Context, userID uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]entity.User, error)
	CountLocked(ctx context.Context, now time.Time) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *userRepository) findOne(ctx context.Context, query string, args ...any) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Where(query, args...).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) VerifyEmail(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND email_verified_at IS NULL", userID).
		Update("email_verified_at", now).
		Error
}

// RecordFailedLogin increments the failure counter and arms the lock in one
// UPDATE, then reads the row back inside the same transaction. An expired lock
// restarts the counter at 1 instead of relocking on the next typo.
func (r *userRepository) RecordFailedLogin(
	ctx context.Context,
	userID uuid.UUID,
	now time.Time,
	threshold int,
	lockFor time.Duration,
) (*entity.User, error) {
	lockUntil := now.Add(lockFor)
	var user entity.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"failed_login_attempts": gorm.Expr(
					"CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1 ELSE failed_login_attempts + 1 END",
					now,
				),
				"locked_until": gorm.Expr(
					`CASE
						WHEN locked_until IS NOT NULL AND locked_until <= ? THEN NULL
						WHEN failed_login_attempts + 1 >= ? THEN ?
						ELSE locked_until
					END`,
					now, threshold, lockUntil,
				),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", userID).First(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID, ipAddress *string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login_ip":         ipAddress,
			"last_login_at":         now,
			"updated_at":            now,
		}).
		Error
}

func (r *userRepository) Suspend(
	ctx context.Context,
	userID uuid.UUID,
	actorID uuid.UUID,
	reason string,
	now time.Time,
	expiresAt *time.Time,
) error {
	return r.updateUnprotected(ctx, userID, map[string]any{
		"is_suspended":          true,
		"suspension_reason":     reason,
		"suspended_by":          actorID,
		"suspended_at":          now,
		"suspension_expires_at": expiresAt,
		"updated_at":            now,
	})
}

func (r *userRepository) ClearSuspension(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", userID).
		Updates(suspensionCleared()).
		Error
}

// ClearExpiredSuspension lifts a timed suspension only if it is still the one
// that expired, so a concurrent re-suspension is never wiped.
func (r *userRepository) ClearExpiredSuspension(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND is_suspended = ? AND suspension_expires_at IS NOT NULL AND suspension_expires_at <= ?", userID, true, now).
		Updates(suspensionCleared())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func suspensionCleared() map[string]any {
	return map[string]any{
		"is_suspended":          false,
		"suspension_reason":     nil,
		"suspended_by":          nil,
		"suspended_at":          nil,
		"suspension_expires_at": nil,
	}
}

func (r *userRepository) Ban(ctx context.Context, userID uuid.UUID, actorID uuid.UUID, reason string, now time.Time) error {
	return r.updateUnprotected(ctx, userID, map[string]any{
		"is_banned":  true,
		"ban_reason": reason,
		"banned_by":  actorID,
		"banned_at":  now,
		"updated_at": now,
	})
}

func (r *userRepository) Unban(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_banned":  false,
			"ban_reason": nil,
			"banned_by":  nil,
			"banned_at":  nil,
		}).
		Error
}

func (r *userRepository) UpdateRole(ctx context.Context, userID uuid.UUID, role entity.UserRole) error {
	return r.updateUnprotected(ctx, userID, map[string]any{"role": role})
}

func (r *userRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND role <> ?", userID, entity.UserRoleSeniorAdmin).
		Delete(&entity.User{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProtectedAccount
	}
	return nil
}

// updateUnprotected refuses to touch senior_admin rows regardless of what the
// caller already checked.
func (r *userRepository) updateUnprotected(ctx context.Context, userID uuid.UUID, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND role <> ?", userID, entity.UserRoleSeniorAdmin).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProtectedAccount
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]entity.User, error) {
	var users []entity.User
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) CountLocked(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("locked_until IS NOT NULL AND locked_until > ?", now).
		Count(&count).Error
	return count, err
}
