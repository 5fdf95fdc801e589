package service

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"testing"
	"time"

	"stockroom/internal/entity"

	"github.com/pquerna/otp/totp"
)

func TestLoginLocksAccountAfterFiveFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := h.createUser(t, "bob", entity.UserRoleUser)

	for i := 1; i <= MaxFailedLoginAttempts; i++ {
		_, err := h.auth.Login(ctx, LoginInput{Username: "bob", Password: "wrong-password", Meta: browserA})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}

	_, err := h.auth.Login(ctx, LoginInput{Username: "bob", Password: testPassword, Meta: browserA})
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if want := h.clock.Now().Add(LockoutDuration); !locked.Until.Equal(want) {
		t.Fatalf("locked until %v, want %v", locked.Until, want)
	}
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatal("locked error should unwrap to ErrAccountLocked")
	}

	h.clock.Advance(LockoutDuration + time.Minute)
	_, err = h.auth.Login(ctx, LoginInput{Username: "bob", Password: "wrong-password", Meta: browserA})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials after expiry, got %v", err)
	}
	fresh := h.reload(t, bob)
	if fresh.FailedLoginAttempts != 1 || fresh.LockedUntil != nil {
		t.Fatalf("expected counter restart, got attempts=%d lockedUntil=%v", fresh.FailedLoginAttempts, fresh.LockedUntil)
	}

	h.login(t, "bob", browserA)
	fresh = h.reload(t, bob)
	if fresh.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset on success, got %d", fresh.FailedLoginAttempts)
	}
	if fresh.LastLoginIP == nil || *fresh.LastLoginIP != browserA.IPAddress {
		t.Fatalf("expected last login ip %s, got %v", browserA.IPAddress, fresh.LastLoginIP)
	}
}

func TestLoginUnknownUserLooksLikeBadPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Login(context.Background(), LoginInput{Username: "nobody", Password: "whatever1", Meta: browserA})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "alice", entity.UserRoleUser)

	first := h.login(t, "alice", browserA)
	second, err := h.auth.Refresh(ctx, first.Tokens.RefreshToken, browserA)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	if _, err := h.auth.Refresh(ctx, first.Tokens.RefreshToken, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected replayed token to be rejected, got %v", err)
	}
	if _, err := h.auth.Refresh(ctx, second.Tokens.RefreshToken, browserA); err != nil {
		t.Fatalf("expected rotated token to work, got %v", err)
	}
}

func TestLoginOnSecondDeviceEndsFirstSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "alice", entity.UserRoleUser)

	deviceA := h.login(t, "alice", browserA)
	deviceB := h.login(t, "alice", browserB)

	if _, err := h.auth.Refresh(ctx, deviceA.Tokens.RefreshToken, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected device A session to be gone, got %v", err)
	}
	if _, err := h.auth.CheckSession(ctx, deviceA.Tokens.RefreshToken, browserA); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired for device A, got %v", err)
	}
	if _, err := h.auth.Refresh(ctx, deviceB.Tokens.RefreshToken, browserB); err != nil {
		t.Fatalf("expected device B to refresh, got %v", err)
	}
}

func TestRefreshRejectsExpiredAndForeignTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "alice", entity.UserRoleUser)
	result := h.login(t, "alice", browserA)

	if _, err := h.auth.Refresh(ctx, result.Tokens.AccessToken, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not refresh, got %v", err)
	}
	h.clock.Advance(DefaultRefreshTokenTTL + time.Second)
	if _, err := h.auth.Refresh(ctx, result.Tokens.RefreshToken, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired refresh token to fail, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "alice", entity.UserRoleUser)
	result := h.login(t, "alice", browserA)

	for i := 0; i < 2; i++ {
		if err := h.auth.Logout(ctx, result.Tokens.RefreshToken, browserA); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if err := h.auth.Logout(ctx, "not-a-token", browserA); err != nil {
		t.Fatalf("unknown token logout: %v", err)
	}
	if _, err := h.auth.Refresh(ctx, result.Tokens.RefreshToken, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected logged out token to fail, got %v", err)
	}
}

func TestRegisterThrottlesAfterTwoSuccesses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meta := RequestMeta{IPAddress: "192.0.2.50", UserAgent: browserA.UserAgent}

	for _, name := range []string{"first", "second"} {
		if _, err := h.auth.Register(ctx, RegisterInput{Username: name, Email: name + "@example.test", Password: testPassword, Meta: meta}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	_, err := h.auth.Register(ctx, RegisterInput{Username: "third", Email: "third@example.test", Password: testPassword, Meta: meta})
	if !errors.Is(err, ErrRegistrationThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}

	other := RequestMeta{IPAddress: "192.0.2.51", UserAgent: browserA.UserAgent}
	if _, err := h.auth.Register(ctx, RegisterInput{Username: "third", Email: "third@example.test", Password: testPassword, Meta: other}); err != nil {
		t.Fatalf("other ip should register: %v", err)
	}

	h.clock.Advance(24*time.Hour + time.Minute)
	if _, err := h.auth.Register(ctx, RegisterInput{Username: "fourth", Email: "fourth@example.test", Password: testPassword, Meta: meta}); err != nil {
		t.Fatalf("expected window to roll over: %v", err)
	}
}

func TestRegisterThrottlesAfterFiveAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "taken", entity.UserRoleUser)
	meta := RequestMeta{IPAddress: "192.0.2.60", UserAgent: browserA.UserAgent}

	for i := 0; i < 5; i++ {
		_, err := h.auth.Register(ctx, RegisterInput{Username: "taken", Email: "other@example.test", Password: testPassword, Meta: meta})
		if !errors.Is(err, ErrAccountExists) {
			t.Fatalf("attempt %d: expected duplicate, got %v", i, err)
		}
	}
	_, err := h.auth.Register(ctx, RegisterInput{Username: "fresh", Email: "fresh@example.test", Password: testPassword, Meta: meta})
	if !errors.Is(err, ErrRegistrationThrottled) {
		t.Fatalf("expected throttle after five attempts, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmailCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "carol", entity.UserRoleUser)
	_, err := h.auth.Register(context.Background(), RegisterInput{Username: "carol2", Email: "CAROL@Example.test", Password: testPassword, Meta: browserA})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_%\-]+)`)

func TestEmailVerificationGatesLogin(t *testing.T) {
	h := newHarness(t, requireVerification)
	ctx := context.Background()

	if _, err := h.auth.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.test", Password: testPassword, Meta: browserA}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Username: "dave", Password: testPassword, Meta: browserA}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected unverified rejection, got %v", err)
	}

	h.notify.Wait()
	sent := h.notifier.To("dave@example.test")
	if len(sent) != 1 {
		t.Fatalf("expected one verification email, got %d", len(sent))
	}
	match := tokenPattern.FindStringSubmatch(sent[0].Text)
	if match == nil {
		t.Fatalf("no token in %q", sent[0].Text)
	}
	token, err := url.QueryUnescape(match[1])
	if err != nil {
		t.Fatalf("unescape: %v", err)
	}

	if err := h.auth.VerifyEmail(ctx, token, browserA); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := h.auth.VerifyEmail(ctx, token, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected verification token to be single use, got %v", err)
	}
	h.login(t, "dave", browserA)
}

func TestLoginWithTwoFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	erin := h.createUser(t, "erin", entity.UserRoleUser)

	setup, err := h.twoFactor.GenerateSecret(ctx, erin.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(setup.BackupCodes) != backupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", backupCodeCount, len(setup.BackupCodes))
	}
	code, err := totp.GenerateCode(setup.Secret, h.clock.Now())
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	if err := h.twoFactor.VerifySetup(ctx, erin.ID, browserA, code); err != nil {
		t.Fatalf("verify setup: %v", err)
	}

	_, err = h.auth.Login(ctx, LoginInput{Username: "erin", Password: testPassword, Meta: browserA})
	if !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("expected two factor required, got %v", err)
	}
	_, err = h.auth.Login(ctx, LoginInput{Username: "erin", Password: testPassword, TOTPCode: "abcdef", Meta: browserA})
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Username: "erin", Password: testPassword, TOTPCode: code, Meta: browserA}); err != nil {
		t.Fatalf("totp login: %v", err)
	}

	backup := setup.BackupCodes[0]
	if _, err := h.auth.Login(ctx, LoginInput{Username: "erin", Password: testPassword, TOTPCode: backup, Meta: browserA}); err != nil {
		t.Fatalf("backup code login: %v", err)
	}
	_, err = h.auth.Login(ctx, LoginInput{Username: "erin", Password: testPassword, TOTPCode: backup, Meta: browserA})
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected used backup code to fail, got %v", err)
	}

	status, err := h.twoFactor.Status(ctx, erin.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Enabled || status.BackupCodesRemaining != backupCodeCount-1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestLoginRecordsNewIPForReturningUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	frank := h.createUser(t, "frank", entity.UserRoleUser)

	h.login(t, "frank", browserA)
	h.clock.Advance(time.Hour)
	h.login(t, "frank", browserA)
	h.clock.Advance(time.Hour)
	h.login(t, "frank", browserB)

	events, err := h.events.Recent(ctx, h.clock.Now().Add(-24*time.Hour), 0, 50)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var successes []entity.SecurityEvent
	for _, event := range events {
		if event.Action == entity.LoginSuccess && event.UserID != nil && *event.UserID == frank.ID {
			successes = append(successes, event)
		}
	}
	if len(successes) != 3 {
		t.Fatalf("expected 3 login events, got %d", len(successes))
	}
	latest := successes[0]
	if latest.IPAddress != browserB.IPAddress || latest.RiskScore < riskWeightGeoAnomaly {
		t.Fatalf("expected geo anomaly on new ip, got ip=%s risk=%v", latest.IPAddress, latest.RiskScore)
	}
	if successes[1].RiskScore != 0 {
		t.Fatalf("known ip should carry no risk, got %v", successes[1].RiskScore)
	}
}

func TestRegisterCountsInvalidAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meta := RequestMeta{IPAddress: "192.0.2.70", UserAgent: browserA.UserAgent}

	for i := 0; i < 5; i++ {
		_, err := h.auth.Register(ctx, RegisterInput{Username: "eve", Email: "eve@example.test", Meta: meta})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("attempt %d: expected invalid input, got %v", i, err)
		}
	}
	_, err := h.auth.Register(ctx, RegisterInput{Username: "eve", Email: "eve@example.test", Password: testPassword, Meta: meta})
	if !errors.Is(err, ErrRegistrationThrottled) {
		t.Fatalf("expected throttle after five invalid attempts, got %v", err)
	}

	stats, err := h.attempts.StatsSince(ctx, meta.IPAddress, h.clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 6 || stats.Successes != 0 {
		t.Fatalf("expected 6 failed attempts on record, got %+v", stats)
	}
}

func TestRejectedRegistrationsCountTowardThrottle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meta := RequestMeta{IPAddress: "192.0.2.71", UserAgent: browserA.UserAgent}
	input := RegisterInput{Username: "bad name!", Email: "nope", Meta: meta}

	for i := 0; i < 5; i++ {
		if err := h.auth.RejectRegistration(ctx, input); err != nil {
			t.Fatalf("reject %d: %v", i, err)
		}
	}
	if err := h.auth.RejectRegistration(ctx, input); !errors.Is(err, ErrRegistrationThrottled) {
		t.Fatalf("expected sixth rejection to report throttle, got %v", err)
	}
	_, err := h.auth.Register(ctx, RegisterInput{Username: "frank", Email: "frank@example.test", Password: testPassword, Meta: meta})
	if !errors.Is(err, ErrRegistrationThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}
}
