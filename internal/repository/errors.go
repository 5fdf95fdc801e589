package repository

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrProtectedAccount is returned when a mutation matched no row because the
	// target is a senior_admin account.
	ErrProtectedAccount = errors.New("account is protected")
)
