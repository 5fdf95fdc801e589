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

type TwoFactorRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.TwoFactor, error)
	SavePending(ctx context.Context, state *entity.TwoFactor, codeHashes []string) error
	Enable(ctx context.Context, userID uuid.UUID, now time.Time) error
	ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error
	ConsumeBackupCode(ctx context.Context, userID uuid.UUID, codeHash string) (bool, error)
	CountBackupCodes(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

type twoFactorRepository struct {
	db *gorm.DB
}

func NewTwoFactorRepository(db *gorm.DB) TwoFactorRepository {
	return &twoFactorRepository{db: db}
}

func (r *twoFactorRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.TwoFactor, error) {
	var state entity.TwoFactor
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&state).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SavePending stores a fresh secret and backup-code set in the not-yet-enabled
// state, replacing any earlier pending enrollment.
func (r *twoFactorRepository) SavePending(ctx context.Context, state *entity.TwoFactor, codeHashes []string) error {
	state.Enabled = false
	state.EnabledAt = nil
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret", "enabled", "enabled_at", "updated_at"}),
		}).Create(state).Error
		if err != nil {
			return err
		}
		return replaceBackupCodes(tx, state.UserID, codeHashes)
	})
}

func (r *twoFactorRepository) Enable(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.TwoFactor{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"enabled": true, "enabled_at": now, "updated_at": now}).
		Error
}

func (r *twoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceBackupCodes(tx, userID, codeHashes)
	})
}

func replaceBackupCodes(tx *gorm.DB, userID uuid.UUID, codeHashes []string) error {
	if err := tx.Where("user_id = ?", userID).Delete(&entity.TwoFactorBackupCode{}).Error; err != nil {
		return err
	}
	if len(codeHashes) == 0 {
		return nil
	}
	codes := make([]entity.TwoFactorBackupCode, 0, len(codeHashes))
	for i, hash := range codeHashes {
		codes = append(codes, entity.TwoFactorBackupCode{UserID: userID, CodeHash: hash, Position: i})
	}
	return tx.Create(&codes).Error
}

// ConsumeBackupCode deletes the matching code. Only the caller whose DELETE
// removed the row may treat the code as accepted.
func (r *twoFactorRepository) ConsumeBackupCode(ctx context.Context, userID uuid.UUID, codeHash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND code_hash = ?", userID, codeHash).
		Delete(&entity.TwoFactorBackupCode{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *twoFactorRepository) CountBackupCodes(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.TwoFactorBackupCode{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (r *twoFactorRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&entity.TwoFactorBackupCode{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&entity.TwoFactor{}).Error
	})
}
