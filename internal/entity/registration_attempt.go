package entity

import "time"

type RegistrationAttempt struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	IPAddress string `gorm:"type:varchar(45);not null;index:idx_registration_ip_created"`
	Email     string `gorm:"type:varchar(255)"`
	Username  string `gorm:"type:varchar(64)"`
	Success   bool   `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"index:idx_registration_ip_created"`
}
