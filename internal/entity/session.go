package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session binds the single live refresh token of a user. The unique index on
// user_id backs the one-session-per-account rule at the storage level.
type Session struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	User     User      `gorm:"constraint:OnDelete:CASCADE"`
	Username string    `gorm:"type:varchar(64);not null"`

	TokenHash string `gorm:"type:text;not null;uniqueIndex"`

	IPAddress *string `gorm:"type:varchar(45)"`
	UserAgent *string `gorm:"type:text"`

	CreatedAt    time.Time
	LastActivity time.Time `gorm:"not null;index"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
