package repository

import (
	"context"
	"time"

	"stockroom/internal/entity"

	"gorm.io/gorm"
)

type RegistrationStats struct {
	Total     int64
	Successes int64
}

type RegistrationLimits struct {
	Since        time.Time
	MaxTotal     int64
	MaxSuccesses int64
}

type RegistrationAttemptRepository interface {
	// Reserve counts the attempts from attempt.IPAddress inside limits and
	// inserts attempt in the same transaction. When the IP is already over a
	// limit the attempt is stored as a failure and allowed is false.
	Reserve(ctx context.Context, attempt *entity.RegistrationAttempt, limits RegistrationLimits) (allowed bool, err error)
	MarkFailed(ctx context.Context, id uint64) error
	StatsSince(ctx context.Context, ip string, since time.Time) (RegistrationStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type registrationAttemptRepository struct {
	db *gorm.DB
}

func NewRegistrationAttemptRepository(db *gorm.DB) RegistrationAttemptRepository {
	return &registrationAttemptRepository{db: db}
}

func (r *registrationAttemptRepository) Reserve(
	ctx context.Context,
	attempt *entity.RegistrationAttempt,
	limits RegistrationLimits,
) (bool, error) {
	allowed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "registration:"+attempt.IPAddress).Error; err != nil {
				return err
			}
		}
		stats, err := registrationStats(tx, attempt.IPAddress, limits.Since)
		if err != nil {
			return err
		}
		allowed = stats.Total < limits.MaxTotal && stats.Successes < limits.MaxSuccesses
		if !allowed {
			attempt.Success = false
		}
		return tx.Create(attempt).Error
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (r *registrationAttemptRepository) MarkFailed(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).
		Model(&entity.RegistrationAttempt{}).
		Where("id = ?", id).
		Update("success", false).Error
}

func (r *registrationAttemptRepository) StatsSince(ctx context.Context, ip string, since time.Time) (RegistrationStats, error) {
	return registrationStats(r.db.WithContext(ctx), ip, since)
}

func registrationStats(db *gorm.DB, ip string, since time.Time) (RegistrationStats, error) {
	var stats RegistrationStats
	err := db.
		Model(&entity.RegistrationAttempt{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successes").
		Where("ip_address = ? AND created_at >= ?", ip, since).
		Scan(&stats).Error
	return stats, err
}

func (r *registrationAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&entity.RegistrationAttempt{})
	return result.RowsAffected, result.Error
}
