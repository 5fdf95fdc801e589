package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"
	"stockroom/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	knownIPLookback         = 30 * 24 * time.Hour
	defaultVerificationTTL  = 24 * time.Hour
	dummyPasswordPlaintext  = "stockroom-timing-equalizer"
	defaultVerificationPath = "/verify-email"
)

type AuthConfig struct {
	VerificationTokenTTL     time.Duration
	RequireEmailVerification bool
	AppBaseURL               string
	VerifyPath               string
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Meta     RequestMeta
}

type LoginInput struct {
	Username string
	Password string
	TOTPCode string
	Meta     RequestMeta
}

type LoginResult struct {
	Tokens *TokenPair
	User   *entity.User
}

type AuthDependencies struct {
	Users         repository.UserRepository
	Verifications repository.VerificationTokenRepository
	History       repository.SecurityEventRepository
	Hasher        PasswordHasher
	Tokens        *TokenIssuer
	Sessions      *SessionRegistry
	Guard         *FailedLoginGuard
	Status        *AccountStatusService
	Gatekeeper    *IPGatekeeper
	TwoFactor     *TwoFactorManager
	Events        *EventLog
	Notify        *NotificationDispatcher
	Clock         Clock
	Log           logrus.FieldLogger
}

type AuthService struct {
	users         repository.UserRepository
	verifications repository.VerificationTokenRepository
	history       repository.SecurityEventRepository
	hasher        PasswordHasher
	tokens        *TokenIssuer
	sessions      *SessionRegistry
	guard         *FailedLoginGuard
	status        *AccountStatusService
	gatekeeper    *IPGatekeeper
	twoFactor     *TwoFactorManager
	events        *EventLog
	notify        *NotificationDispatcher
	clock         Clock
	log           logrus.FieldLogger
	config        AuthConfig

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(deps AuthDependencies, config AuthConfig) *AuthService {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = BcryptPasswordHasher{}
	}
	return &AuthService{
		users:         deps.Users,
		verifications: deps.Verifications,
		history:       deps.History,
		hasher:        hasher,
		tokens:        deps.Tokens,
		sessions:      deps.Sessions,
		guard:         deps.Guard,
		status:        deps.Status,
		gatekeeper:    deps.Gatekeeper,
		twoFactor:     deps.TwoFactor,
		events:        deps.Events,
		notify:        deps.Notify,
		clock:         deps.Clock,
		log:           log,
		config:        config,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*entity.User, error) {
	username := utils.NormalizeUsername(input.Username)
	email := utils.NormalizeEmail(input.Email)
	ip := input.Meta.IPAddress

	attempt, err := s.gatekeeper.BeginRegistration(ctx, ip, email, username)
	if errors.Is(err, ErrRegistrationThrottled) {
		s.recordThrottledRegistration(ctx, input.Meta, username, email)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	user, err := s.register(ctx, input, username, email)
	if err != nil {
		if markErr := s.gatekeeper.FinishRegistration(ctx, attempt, false); markErr != nil {
			s.log.WithError(markErr).Warn("registration attempt not downgraded")
		}
		reason := "error"
		switch {
		case errors.Is(err, ErrInvalidInput):
			reason = "invalid"
		case errors.Is(err, ErrAccountExists):
			reason = "duplicate"
		}
		s.events.Record(ctx, Event{
			Meta:     input.Meta,
			Action:   entity.RegistrationFailed,
			Username: username,
			Details:  map[string]any{"email": email, "reason": reason},
		})
		return nil, err
	}

	s.events.Record(ctx, Event{
		Meta:     input.Meta,
		Action:   entity.RegistrationSuccess,
		UserID:   &user.ID,
		Username: username,
	})
	if s.config.RequireEmailVerification {
		if err := s.sendEmailVerification(ctx, user); err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Warn("verification email not queued")
		}
	}
	return user, nil
}

// RejectRegistration counts a sign-up the transport refused as malformed
// against the registration throttle. It returns ErrRegistrationThrottled when
// the address was already over the limit.
func (s *AuthService) RejectRegistration(ctx context.Context, input RegisterInput) error {
	username := utils.NormalizeUsername(input.Username)
	email := utils.NormalizeEmail(input.Email)
	err := s.gatekeeper.RejectRegistration(ctx, input.Meta.IPAddress, email, username)
	if errors.Is(err, ErrRegistrationThrottled) {
		s.recordThrottledRegistration(ctx, input.Meta, username, email)
		return err
	}
	if err != nil {
		return err
	}
	s.events.Record(ctx, Event{
		Meta:     input.Meta,
		Action:   entity.RegistrationFailed,
		Username: username,
		Details:  map[string]any{"email": email, "reason": "invalid"},
	})
	return nil
}

func (s *AuthService) register(ctx context.Context, input RegisterInput, username, email string) (*entity.User, error) {
	if username == "" || email == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}
	user := &entity.User{
		Username:       username,
		Email:          email,
		PasswordHash:   hash,
		Role:           entity.UserRoleUser,
		RegistrationIP: stringPtr(input.Meta.IPAddress),
	}
	if !s.config.RequireEmailVerification {
		now := s.now()
		user.EmailVerifiedAt = &now
	}
	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string, meta RequestMeta) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidInput
	}
	now := s.now()
	verification, err := s.verifications.FindValid(ctx, utils.HashToken(token), entity.EmailVerify, now)
	if err != nil {
		return err
	}
	if verification == nil {
		return ErrInvalidToken
	}
	used, err := s.verifications.MarkUsed(ctx, verification.ID, now)
	if err != nil {
		return err
	}
	if !used {
		return ErrInvalidToken
	}
	if err := s.users.VerifyEmail(ctx, verification.UserID, now); err != nil {
		return err
	}
	s.events.Record(ctx, Event{Meta: meta, Action: entity.EmailVerified, UserID: &verification.UserID})
	return nil
}

// Login runs the account checks in a fixed order: status, lockout, password,
// verification, second factor. Nothing after a rejection is evaluated.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	username := utils.NormalizeUsername(input.Username)
	if username == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}
	meta := input.Meta

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = s.hasher.Verify(s.dummyPasswordHash(), input.Password)
		s.events.Record(ctx, Event{Meta: meta, Action: entity.LoginFailed, Username: username, Details: map[string]any{"reason": "unknown_user"}})
		return nil, ErrInvalidCredentials
	}

	if err := s.status.CheckAccess(ctx, user); err != nil {
		s.recordStatusRejection(ctx, meta, user, err)
		return nil, err
	}

	if err := s.guard.Check(user); err != nil {
		s.events.Record(ctx, Event{Meta: meta, Action: entity.LoginLocked, UserID: &user.ID, Username: user.Username})
		return nil, err
	}

	if !s.hasher.Verify(user.PasswordHash, input.Password) {
		updated, err := s.guard.RecordFailure(ctx, user)
		if err != nil {
			return nil, err
		}
		details := map[string]any{"reason": "bad_password", "attempts": updated.FailedLoginAttempts}
		if updated.IsLocked(s.now()) {
			details["lockedUntil"] = updated.LockedUntil
		}
		s.events.Record(ctx, Event{Meta: meta, Action: entity.LoginFailed, UserID: &user.ID, Username: user.Username, Details: details})
		return nil, ErrInvalidCredentials
	}

	if s.config.RequireEmailVerification && !user.IsVerified() {
		s.events.Record(ctx, Event{Meta: meta, Action: entity.LoginUnverified, UserID: &user.ID, Username: user.Username})
		return nil, ErrEmailNotVerified
	}

	twoFactorEnabled, err := s.twoFactor.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	usedBackup := false
	if twoFactorEnabled {
		if strings.TrimSpace(input.TOTPCode) == "" {
			return nil, ErrTwoFactorRequired
		}
		usedBackup, err = s.twoFactor.VerifyLogin(ctx, user.ID, input.TOTPCode)
		if err != nil {
			if errors.Is(err, ErrInvalidTwoFactorCode) {
				s.events.Record(ctx, Event{Meta: meta, Action: entity.TwoFactorFailed, UserID: &user.ID, Username: user.Username, Details: map[string]any{"stage": "login"}})
			}
			return nil, err
		}
	}

	newIP := s.isNewIP(ctx, user, meta.IPAddress)

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Put(ctx, user, pair.RefreshToken, meta); err != nil {
		return nil, err
	}
	if err := s.guard.RecordSuccess(ctx, user, meta.IPAddress); err != nil {
		return nil, err
	}
	now := s.now()
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginIP = stringPtr(meta.IPAddress)
	user.LastLoginAt = &now

	if usedBackup {
		s.events.Record(ctx, Event{Meta: meta, Action: entity.BackupCodeUsed, UserID: &user.ID, Username: user.Username})
	}
	s.events.Record(ctx, Event{
		Meta:       meta,
		Action:     entity.LoginSuccess,
		UserID:     &user.ID,
		Username:   user.Username,
		Details:    map[string]any{"newIp": newIP, "twoFactor": twoFactorEnabled},
		GeoAnomaly: newIP,
	})
	return &LoginResult{Tokens: pair, User: user}, nil
}

// Refresh exchanges a refresh token for a new pair. The token must still be
// bound to the caller's live session; once rotated it is dead even though
// its signature still verifies.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidInput
	}
	verified := s.tokens.VerifyRefresh(refreshToken)
	if !verified.Valid() {
		s.events.Record(ctx, Event{Meta: meta, Action: entity.RefreshRejected, Details: map[string]any{"reason": verified.Status.String()}})
		return nil, ErrInvalidToken
	}
	claims := verified.Claims

	session, err := s.sessions.FindByToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != claims.UserID {
		s.events.Record(ctx, Event{Meta: meta, Action: entity.RefreshRejected, UserID: &claims.UserID, Username: claims.Username, Details: map[string]any{"reason": "session_not_found"}})
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	if err := s.status.CheckAccess(ctx, user); err != nil {
		if _, removeErr := s.sessions.RemoveByToken(ctx, refreshToken); removeErr != nil {
			s.log.WithError(removeErr).Warn("session revoke failed")
		}
		s.recordStatusRejection(ctx, meta, user, err)
		return nil, err
	}

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Rotate(ctx, user, refreshToken, pair.RefreshToken, meta); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.events.Record(ctx, Event{Meta: meta, Action: entity.RefreshRejected, UserID: &user.ID, Username: user.Username, Details: map[string]any{"reason": "rotated"}})
		}
		return nil, err
	}
	s.events.Record(ctx, Event{Meta: meta, Action: entity.TokenRefreshed, UserID: &user.ID, Username: user.Username})
	return &LoginResult{Tokens: pair, User: user}, nil
}

// CheckSession is Refresh for clients polling whether they are still signed
// in. Any token or session failure becomes ErrSessionExpired.
func (s *AuthService) CheckSession(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	result, err := s.Refresh(ctx, refreshToken, meta)
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrInvalidInput) {
		return nil, ErrSessionExpired
	}
	return result, err
}

// Logout is idempotent. Unknown or already-rotated tokens succeed quietly.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	removed, err := s.sessions.RemoveByToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	event := Event{Meta: meta, Action: entity.Logout}
	if verified := s.tokens.VerifyRefresh(refreshToken); verified.Valid() {
		event.UserID = &verified.Claims.UserID
		event.Username = verified.Claims.Username
	}
	s.events.Record(ctx, event)
	return nil
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) createUser(ctx context.Context, user *entity.User) error {
	existing, err := s.users.FindByUsername(ctx, user.Username)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAccountExists
	}
	existing, err = s.users.FindByEmail(ctx, user.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAccountExists
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *AuthService) recordThrottledRegistration(ctx context.Context, meta RequestMeta, username, email string) {
	s.events.Record(ctx, Event{
		Meta:     meta,
		Action:   entity.RegistrationBlocked,
		Username: username,
		Details:  map[string]any{"email": email},
	})
}

func (s *AuthService) recordStatusRejection(ctx context.Context, meta RequestMeta, user *entity.User, err error) {
	var suspended *SuspendedError
	var banned *BannedError
	switch {
	case errors.As(err, &banned):
		s.events.Record(ctx, Event{Meta: meta, Action: entity.LoginBanned, UserID: &user.ID, Username: user.Username, Details: map[string]any{"reason": banned.Reason}})
	case errors.As(err, &suspended):
		s.events.Record(ctx, Event{Meta: meta, Action: entity.LoginSuspended, UserID: &user.ID, Username: user.Username, Details: map[string]any{"reason": suspended.Reason}})
	}
}

// isNewIP reports whether a returning user signs in from an address absent
// from their successful logins of the last 30 days.
func (s *AuthService) isNewIP(ctx context.Context, user *entity.User, ip string) bool {
	if ip == "" || user.LastLoginAt == nil || s.history == nil {
		return false
	}
	seen, err := s.history.HasLoginFromIP(ctx, user.ID, ip, s.now().Add(-knownIPLookback))
	if err != nil {
		s.log.WithError(err).Warn("login history lookup failed")
		return false
	}
	return !seen
}

func (s *AuthService) sendEmailVerification(ctx context.Context, user *entity.User) error {
	rawToken, err := utils.GenerateRandomToken(32)
	if err != nil {
		return err
	}
	ttl := s.config.VerificationTokenTTL
	if ttl <= 0 {
		ttl = defaultVerificationTTL
	}
	verification := &entity.VerificationToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(rawToken),
		Type:      entity.EmailVerify,
		ExpiresAt: s.now().Add(ttl),
		CreatedAt: s.now(),
	}
	if err := s.verifications.Create(ctx, verification); err != nil {
		return err
	}
	s.notify.Dispatch(verificationNotification(user.Email, s.verificationLink(rawToken)))
	return nil
}

func (s *AuthService) verificationLink(token string) string {
	path := s.config.VerifyPath
	if path == "" {
		path = defaultVerificationPath
	}
	base := strings.TrimRight(s.config.AppBaseURL, "/")
	return fmt.Sprintf("%s%s?token=%s", base, path, url.QueryEscape(token))
}

func (s *AuthService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPasswordPlaintext)
		if err != nil {
			s.log.WithError(err).Error("dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AuthService) now() time.Time {
	return nowFrom(s.clock)
}
