package repository

import (
	"context"
	"errors"
	"time"

	"stockroom/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockedIPRepository interface {
	Upsert(ctx context.Context, block *entity.BlockedIP) error
	FindActive(ctx context.Context, ip string, now time.Time) (*entity.BlockedIP, error)
	Exists(ctx context.Context, ip string) (bool, error)
	Delete(ctx context.Context, ip string) (bool, error)
	ListActive(ctx context.Context, now time.Time) ([]entity.BlockedIP, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type blockedIPRepository struct {
	db *gorm.DB
}

func NewBlockedIPRepository(db *gorm.DB) BlockedIPRepository {
	return &blockedIPRepository{db: db}
}

// Upsert replaces reason, actor and duration when the address is already listed.
func (r *blockedIPRepository) Upsert(ctx context.Context, block *entity.BlockedIP) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip_address"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "blocked_by", "blocked_until", "updated_at"}),
		}).
		Create(block).Error
}

func (r *blockedIPRepository) FindActive(ctx context.Context, ip string, now time.Time) (*entity.BlockedIP, error) {
	var block entity.BlockedIP
	err := r.db.WithContext(ctx).
		Where("ip_address = ? AND (blocked_until IS NULL OR blocked_until > ?)", ip, now).
		First(&block).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *blockedIPRepository) Exists(ctx context.Context, ip string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.BlockedIP{}).
		Where("ip_address = ?", ip).
		Count(&count).Error
	return count > 0, err
}

func (r *blockedIPRepository) Delete(ctx context.Context, ip string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("ip_address = ?", ip).
		Delete(&entity.BlockedIP{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *blockedIPRepository) ListActive(ctx context.Context, now time.Time) ([]entity.BlockedIP, error) {
	var blocks []entity.BlockedIP
	err := r.db.WithContext(ctx).
		Where("blocked_until IS NULL OR blocked_until > ?", now).
		Order("created_at DESC").
		Find(&blocks).Error
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func (r *blockedIPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("blocked_until IS NOT NULL AND blocked_until <= ?", now).
		Delete(&entity.BlockedIP{})
	return result.RowsAffected, result.Error
}
