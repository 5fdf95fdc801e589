package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleUser        UserRole = "user"
	UserRoleAdmin       UserRole = "admin"
	UserRoleSeniorAdmin UserRole = "senior_admin"
)

// ParseUserRole maps a stored or submitted role string onto the closed role set.
func ParseUserRole(value string) (UserRole, bool) {
	switch UserRole(value) {
	case UserRoleUser, UserRoleAdmin, UserRoleSeniorAdmin:
		return UserRole(value), true
	}
	return "", false
}

// HasRole reports whether role is one of allowed.
func HasRole(role UserRole, allowed ...UserRole) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:text;not null"`
	Role         UserRole  `gorm:"type:varchar(20);default:'user';not null"`

	EmailVerifiedAt *time.Time

	FailedLoginAttempts int `gorm:"not null;default:0"`
	LockedUntil         *time.Time

	IsSuspended         bool `gorm:"not null;default:false"`
	SuspensionReason    *string
	SuspendedBy         *uuid.UUID `gorm:"type:uuid"`
	SuspendedAt         *time.Time
	SuspensionExpiresAt *time.Time

	IsBanned  bool `gorm:"not null;default:false"`
	BanReason *string
	BannedBy  *uuid.UUID `gorm:"type:uuid"`
	BannedAt  *time.Time

	RegistrationIP *string `gorm:"type:varchar(45)"`
	LastLoginIP    *string `gorm:"type:varchar(45)"`
	LastLoginAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Session   *Session
	TwoFactor *TwoFactor
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// IsLocked reports whether a failed-login lock is still in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// SuspensionExpired reports whether a timed suspension has run out at now.
func (u *User) SuspensionExpired(now time.Time) bool {
	return u.IsSuspended && u.SuspensionExpiresAt != nil && !u.SuspensionExpiresAt.After(now)
}

func (u *User) IsProtected() bool {
	return u.Role == UserRoleSeniorAdmin
}
