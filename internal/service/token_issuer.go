package service

import (
	"errors"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/utils"

	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = 30 * time.Minute
	DefaultRefreshTokenTTL = 60 * time.Minute

	accessAudience  = "access"
	refreshAudience = "refresh"
)

var (
	ErrMissingSigningSecret = errors.New("token signing secret is required")
	ErrSharedSigningSecret  = errors.New("access and refresh tokens must use different secrets")
)

type TokenStatus int

const (
	TokenValid TokenStatus = iota
	TokenExpired
	TokenMalformed
)

func (s TokenStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	default:
		return "malformed"
	}
}

// TokenClaims is the identity carried by both token kinds.
type TokenClaims struct {
	UserID    uuid.UUID
	Username  string
	Role      entity.UserRole
	ExpiresAt time.Time
}

// TokenResult is the outcome of verifying a token. Claims is set only when
// Status is TokenValid.
type TokenResult struct {
	Status TokenStatus
	Claims *TokenClaims
}

func (r TokenResult) Valid() bool {
	return r.Status == TokenValid && r.Claims != nil
}

type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenIssuer mints and verifies stateless signed tokens. Revocation is the
// session registry's job.
type TokenIssuer struct {
	access  utils.JWTManager
	refresh utils.JWTManager
	clock   Clock
}

func NewTokenIssuer(cfg TokenConfig, clock Clock) (*TokenIssuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, ErrSharedSigningSecret
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenIssuer{
		access:  utils.JWTManager{Secret: cfg.AccessSecret, Issuer: cfg.Issuer, Audience: accessAudience, TTL: accessTTL},
		refresh: utils.JWTManager{Secret: cfg.RefreshSecret, Issuer: cfg.Issuer, Audience: refreshAudience, TTL: refreshTTL},
		clock:   clock,
	}, nil
}

func (i *TokenIssuer) Issue(user *entity.User) (*TokenPair, error) {
	now := nowFrom(i.clock)
	accessToken, accessExpiry, err := i.access.Issue(user.ID.String(), user.Username, string(user.Role), now)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExpiry, err := i.refresh.Issue(user.ID.String(), user.Username, string(user.Role), now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

func (i *TokenIssuer) VerifyAccess(token string) TokenResult {
	return verifyWith(i.access, token, nowFrom(i.clock))
}

func (i *TokenIssuer) VerifyRefresh(token string) TokenResult {
	return verifyWith(i.refresh, token, nowFrom(i.clock))
}

func verifyWith(manager utils.JWTManager, token string, now time.Time) TokenResult {
	claims, err := manager.Parse(token, now)
	if errors.Is(err, utils.ErrExpiredToken) {
		return TokenResult{Status: TokenExpired}
	}
	if err != nil {
		return TokenResult{Status: TokenMalformed}
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return TokenResult{Status: TokenMalformed}
	}
	role, ok := entity.ParseUserRole(claims.Role)
	if !ok {
		return TokenResult{Status: TokenMalformed}
	}
	result := TokenResult{
		Status: TokenValid,
		Claims: &TokenClaims{UserID: userID, Username: claims.Username, Role: role},
	}
	if claims.ExpiresAt != nil {
		result.Claims.ExpiresAt = claims.ExpiresAt.Time
	}
	return result
}
