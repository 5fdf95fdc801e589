package service

import (
	"time"

	"stockroom/internal/entity"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

// RealClock reports wall time in UTC so stored timestamps compare cleanly on
// every driver.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// RequestMeta is what the HTTP layer knows about the caller.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Actor is an authenticated caller performing a privileged action.
type Actor struct {
	ID       uuid.UUID
	Username string
	Role     entity.UserRole
}

func nowFrom(clock Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now()
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
