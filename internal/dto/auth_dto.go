package dto

import (
	"time"

	"stockroom/internal/entity"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
	TOTPCode string `json:"totpCode" validate:"omitempty,max=16"`
}

// RefreshRequest is optional on the wire; the refresh cookie is used when the
// body carries no token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LoginResponse struct {
	AccessToken      string       `json:"accessToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             UserResponse `json:"user"`
}

type CheckSessionResponse struct {
	LoginResponse
	SessionExpired bool `json:"sessionExpired"`
}

type UserResponse struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	Role                string     `json:"role"`
	EmailVerified       bool       `json:"emailVerified"`
	IsSuspended         bool       `json:"isSuspended"`
	SuspensionReason    *string    `json:"suspensionReason,omitempty"`
	SuspensionExpiresAt *time.Time `json:"suspensionExpiresAt,omitempty"`
	IsBanned            bool       `json:"isBanned"`
	BanReason           *string    `json:"banReason,omitempty"`
	LockedUntil         *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP         *string    `json:"lastLoginIp,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func UserResponseFromEntity(user *entity.User) UserResponse {
	return UserResponse{
		ID:                  user.ID.String(),
		Username:            user.Username,
		Email:               user.Email,
		Role:                string(user.Role),
		EmailVerified:       user.IsVerified(),
		IsSuspended:         user.IsSuspended,
		SuspensionReason:    user.SuspensionReason,
		SuspensionExpiresAt: user.SuspensionExpiresAt,
		IsBanned:            user.IsBanned,
		BanReason:           user.BanReason,
		LockedUntil:         user.LockedUntil,
		LastLoginAt:         user.LastLoginAt,
		LastLoginIP:         user.LastLoginIP,
		CreatedAt:           user.CreatedAt,
	}
}

func UserResponsesFromEntities(users []entity.User) []UserResponse {
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, UserResponseFromEntity(&users[i]))
	}
	return responses
}
