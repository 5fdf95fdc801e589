package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TwoFactor struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	Secret    string `gorm:"type:text;not null"`
	Enabled   bool   `gorm:"not null;default:false"`
	EnabledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *TwoFactor) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TwoFactorBackupCode is one single-use recovery code. Consumption deletes the
// row, so a code can never be accepted twice.
type TwoFactorBackupCode struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_backup_code_user_hash"`
	CodeHash string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_backup_code_user_hash"`
	Position int       `gorm:"not null"`

	CreatedAt time.Time
}

func (c *TwoFactorBackupCode) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
