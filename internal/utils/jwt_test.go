package utils

import (
	"errors"
	"testing"
	"time"
)

func testManager(secret string) JWTManager {
	return JWTManager{Secret: []byte(secret), Issuer: "stockroom", Audience: "access", TTL: 30 * time.Minute}
}

func TestJWTManagerRoundTrip(t *testing.T) {
	m := testManager("access-secret")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	token, expiresAt, err := m.Issue("user-1", "alice", "user", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}
	claims, err := m.Parse(token, now.Add(29*time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "alice" || claims.Role != "user" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJWTManagerExpired(t *testing.T) {
	m := testManager("access-secret")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token, _, _ := m.Issue("user-1", "alice", "user", now)

	if _, err := m.Parse(token, now.Add(31*time.Minute)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestJWTManagerRejectsForeignSecret(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token, _, _ := testManager("refresh-secret").Issue("user-1", "alice", "user", now)

	if _, err := testManager("access-secret").Parse(token, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := testManager("access-secret").Parse("not-a-token", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestJWTManagerUniquePerIssue(t *testing.T) {
	m := testManager("access-secret")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, _, _ := m.Issue("user-1", "alice", "user", now)
	b, _, _ := m.Issue("user-1", "alice", "user", now)
	if a == b {
		t.Fatalf("expected distinct tokens within the same second")
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	if got := NormalizeBackupCode(" abcd2345 "); got != "ABCD-2345" {
		t.Fatalf("expected ABCD-2345, got %q", got)
	}
	if got := NormalizeBackupCode("ABCD-2345"); got != "ABCD-2345" {
		t.Fatalf("expected ABCD-2345, got %q", got)
	}
}
