package entity

import (
	"time"

	"github.com/google/uuid"
)

// BlockedIP is a block-list entry. A nil BlockedUntil blocks indefinitely.
type BlockedIP struct {
	IPAddress    string     `gorm:"type:varchar(45);primaryKey"`
	Reason       string     `gorm:"type:text;not null"`
	BlockedBy    *uuid.UUID `gorm:"type:uuid"`
	BlockedUntil *time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *BlockedIP) ActiveAt(now time.Time) bool {
	return b.BlockedUntil == nil || b.BlockedUntil.After(now)
}
