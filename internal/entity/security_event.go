package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SecurityAction string

const (
	LoginSuccess        SecurityAction = "login_success"
	LoginFailed         SecurityAction = "login_failed"
	LoginLocked         SecurityAction = "login_locked"
	LoginSuspended      SecurityAction = "login_suspended"
	LoginBanned         SecurityAction = "login_banned"
	LoginUnverified     SecurityAction = "login_unverified"
	TwoFactorFailed     SecurityAction = "two_factor_failed"
	TwoFactorEnabled    SecurityAction = "two_factor_enabled"
	TwoFactorDisabled   SecurityAction = "two_factor_disabled"
	BackupCodeUsed      SecurityAction = "backup_code_used"
	Logout              SecurityAction = "logout"
	TokenRefreshed      SecurityAction = "token_refreshed"
	RefreshRejected     SecurityAction = "refresh_rejected"
	RegistrationSuccess SecurityAction = "registration_success"
	RegistrationFailed  SecurityAction = "registration_failed"
	RegistrationBlocked SecurityAction = "registration_blocked"
	EmailVerified       SecurityAction = "email_verified"
	RequestBlocked      SecurityAction = "blocked"
	RateLimited         SecurityAction = "rate_limited"
	UserSuspended       SecurityAction = "user_suspended"
	UserUnsuspended     SecurityAction = "user_unsuspended"
	UserBanned          SecurityAction = "user_banned"
	UserUnbanned        SecurityAction = "user_unbanned"
	UserRoleChanged     SecurityAction = "user_role_changed"
	UserDeleted         SecurityAction = "user_deleted"
	IPBlocked           SecurityAction = "ip_blocked"
	IPUnblocked         SecurityAction = "ip_unblocked"
)

// SecurityEvent is an append-only audit row. UserID is intentionally not a
// foreign key so events outlive deleted accounts.
type SecurityEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserID   *uuid.UUID `gorm:"type:uuid;index"`
	Username string     `gorm:"type:varchar(64);index"`

	IPAddress string         `gorm:"type:varchar(45);not null;index:idx_security_event_ip_created"`
	UserAgent string         `gorm:"type:text"`
	Action    SecurityAction `gorm:"type:varchar(40);not null;index"`

	Details   datatypes.JSON
	RiskScore float64 `gorm:"not null;default:0"`
	Location  datatypes.JSON

	CreatedAt time.Time `gorm:"index:idx_security_event_ip_created;index"`
}

func (e *SecurityEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
