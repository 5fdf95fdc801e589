package service

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrAccountExists         = errors.New("username or email already registered")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrInvalidToken          = errors.New("invalid or expired token")
	ErrSessionExpired        = errors.New("session expired")
	ErrForbidden             = errors.New("forbidden")
	ErrAccountLocked         = errors.New("account locked")
	ErrAccountSuspended      = errors.New("account suspended")
	ErrAccountBanned         = errors.New("account banned")
	ErrProtectedAccount      = errors.New("senior admin accounts cannot be modified")
	ErrSelfAction            = errors.New("cannot target your own account")
	ErrIPBlocked             = errors.New("ip address blocked")
	ErrRateLimited           = errors.New("too many requests")
	ErrRegistrationThrottled = errors.New("too many registration attempts from this address")
	ErrTwoFactorRequired     = errors.New("two-factor code required")
	ErrInvalidTwoFactorCode  = errors.New("invalid two-factor code")
	ErrTwoFactorNotPending   = errors.New("two-factor setup not started")
	ErrTwoFactorNotEnabled   = errors.New("two-factor authentication not enabled")
	ErrTwoFactorEnabled      = errors.New("two-factor authentication already enabled")
	ErrUserNotFound          = errors.New("user not found")
	ErrNotFound              = errors.New("not found")
)

// LockedError is returned while a failed-login lock is in force.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

type SuspendedError struct {
	Reason    string
	ExpiresAt *time.Time
}

func (e *SuspendedError) Error() string {
	return ErrAccountSuspended.Error() + ": " + e.Reason
}

func (e *SuspendedError) Unwrap() error { return ErrAccountSuspended }

type BannedError struct {
	Reason string
}

func (e *BannedError) Error() string {
	return ErrAccountBanned.Error() + ": " + e.Reason
}

func (e *BannedError) Unwrap() error { return ErrAccountBanned }

type BlockedIPError struct {
	Reason string
	Until  *time.Time
}

func (e *BlockedIPError) Error() string {
	return ErrIPBlocked.Error() + ": " + e.Reason
}

func (e *BlockedIPError) Unwrap() error { return ErrIPBlocked }

// RateLimitError carries how long the caller should wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
