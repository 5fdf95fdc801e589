package repository

import (
	"fmt"

	"stockroom/internal/entity"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table owned by the auth subsystem.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("repository: nil connection")
	}
	if err := db.AutoMigrate(
		&entity.User{},
		&entity.Session{},
		&entity.TwoFactor{},
		&entity.TwoFactorBackupCode{},
		&entity.VerificationToken{},
		&entity.BlockedIP{},
		&entity.RegistrationAttempt{},
		&entity.SecurityEvent{},
	); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}
