package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stockroom/config"
	"stockroom/internal/entity"
	"stockroom/internal/ratelimit"
	"stockroom/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "correct-horse-battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Send(_ context.Context, notification Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, notification)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) To(email string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, notification := range n.sent {
		if notification.To == email {
			out = append(out, notification)
		}
	}
	return out
}

type harness struct {
	db       *gorm.DB
	clock    *fakeClock
	notifier *recordingNotifier
	notify   *NotificationDispatcher
	hasher   PasswordHasher

	users    repository.UserRepository
	events   repository.SecurityEventRepository
	blocks   repository.BlockedIPRepository
	attempts repository.RegistrationAttemptRepository
	limiter  *ratelimit.Manager

	tokens      *TokenIssuer
	sessions    *SessionRegistry
	guard       *FailedLoginGuard
	eventLog    *EventLog
	status      *AccountStatusService
	gatekeeper  *IPGatekeeper
	twoFactor   *TwoFactorManager
	analytics   *SecurityAnalyticsService
	maintenance *MaintenanceService
	auth        *AuthService
}

type harnessOption func(*AuthConfig)

func requireVerification(cfg *AuthConfig) {
	cfg.RequireEmailVerification = true
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := config.ConnectDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "stockroom.db"),
	}, log)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := &harness{
		db:       db,
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		hasher:   BcryptPasswordHasher{Cost: bcrypt.MinCost},
		users:    repository.NewUserRepository(db),
		events:   repository.NewSecurityEventRepository(db),
		blocks:   repository.NewBlockedIPRepository(db),
		attempts: repository.NewRegistrationAttemptRepository(db),
		limiter:  ratelimit.NewManager(nil, log),
	}
	h.notify = NewNotificationDispatcher(h.notifier, log)

	h.tokens, err = NewTokenIssuer(TokenConfig{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		Issuer:        "stockroom-test",
	}, h.clock)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	h.eventLog = NewEventLog(h.events, h.blocks, nil, nil, h.clock, log)
	h.sessions = NewSessionRegistry(repository.NewSessionRepository(db), h.clock)
	h.guard = NewFailedLoginGuard(h.users, h.clock)
	h.status = NewAccountStatusService(h.users, h.sessions, h.eventLog, h.notify, h.clock, log)
	h.gatekeeper = NewIPGatekeeper(h.blocks, h.attempts, h.limiter, h.eventLog, h.clock)
	h.twoFactor = NewTwoFactorManager(repository.NewTwoFactorRepository(db), h.users, h.eventLog, h.notify, h.clock, "Stockroom")
	h.analytics = NewSecurityAnalyticsService(h.events, h.sessions, h.guard, h.gatekeeper, h.clock)
	h.maintenance = NewMaintenanceService(h.sessions, h.gatekeeper, h.analytics, h.events, h.limiter, h.clock, log, true)

	cfg := AuthConfig{AppBaseURL: "https://app.example.test"}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.auth = NewAuthService(AuthDependencies{
		Users:         h.users,
		Verifications: repository.NewVerificationTokenRepository(db),
		History:       h.events,
		Hasher:        h.hasher,
		Tokens:        h.tokens,
		Sessions:      h.sessions,
		Guard:         h.guard,
		Status:        h.status,
		Gatekeeper:    h.gatekeeper,
		TwoFactor:     h.twoFactor,
		Events:        h.eventLog,
		Notify:        h.notify,
		Clock:         h.clock,
		Log:           log,
	}, cfg)
	return h
}

// createUser stores a verified account with testPassword.
func (h *harness) createUser(t *testing.T, username string, role entity.UserRole) *entity.User {
	t.Helper()
	hash, err := h.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := h.clock.Now()
	user := &entity.User{
		Username:        username,
		Email:           username + "@example.test",
		PasswordHash:    hash,
		Role:            role,
		EmailVerifiedAt: &now,
	}
	if err := h.users.Create(context.Background(), user); err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
	return user
}

func (h *harness) login(t *testing.T, username string, meta RequestMeta) *LoginResult {
	t.Helper()
	result, err := h.auth.Login(context.Background(), LoginInput{Username: username, Password: testPassword, Meta: meta})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return result
}

func (h *harness) reload(t *testing.T, user *entity.User) *entity.User {
	t.Helper()
	fresh, err := h.users.FindByID(context.Background(), user.ID)
	if err != nil || fresh == nil {
		t.Fatalf("reload %s: %v", user.Username, err)
	}
	return fresh
}

func actorFor(user *entity.User) Actor {
	return Actor{ID: user.ID, Username: user.Username, Role: user.Role}
}

var (
	browserA = RequestMeta{IPAddress: "198.51.100.10", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0"}
	browserB = RequestMeta{IPAddress: "198.51.100.20", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) Safari/605.1.15"}
)
