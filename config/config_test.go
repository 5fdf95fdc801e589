package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "APP_ENV", "HTTP_ADDR", "DB_DRIVER", "DATABASE_URL",
		"JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET", "JWT_ISSUER", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL",
		"REQUIRE_EMAIL_VERIFICATION", "AUTO_BLOCK_SUSPICIOUS", "SWEEP_SCHEDULE", "REDIS_DB", "TRUSTED_PROXIES",
	} {
		t.Setenv(key, "")
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadRequiresAccessSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_REFRESH_SECRET", "refresh")

	if _, err := Load(""); !errors.Is(err, ErrMissingAccessSecret) {
		t.Fatalf("expected ErrMissingAccessSecret, got %v", err)
	}
}

func TestLoadRequiresRefreshSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "access")

	if _, err := Load(""); !errors.Is(err, ErrMissingRefreshSecret) {
		t.Fatalf("expected ErrMissingRefreshSecret, got %v", err)
	}
}

func TestLoadRejectsSharedSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "same")
	t.Setenv("JWT_REFRESH_SECRET", "same")

	if _, err := Load(""); !errors.Is(err, ErrSharedSigningSecret) {
		t.Fatalf("expected ErrSharedSigningSecret, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Database.Driver != "postgres" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.JWT.AccessTTL != 30*time.Minute || cfg.JWT.RefreshTTL != time.Hour {
		t.Fatalf("unexpected token lifetimes %s / %s", cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	}
	if !cfg.Security.RequireEmailVerification || cfg.Security.AutoBlockSuspicious {
		t.Fatalf("unexpected security defaults %+v", cfg.Security)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
http_addr: ":9090"
database:
  driver: sqlite
  url: data/stockroom.db
jwt:
  access_secret: file-access
  refresh_secret: file-refresh
security:
  auto_block_suspicious: true
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JWT_REFRESH_SECRET", "env-refresh")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.JWT.AccessSecret != "file-access" || cfg.JWT.RefreshSecret != "env-refresh" {
		t.Fatalf("expected env to override file secrets, got %q / %q", cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret)
	}
	if !cfg.Security.AutoBlockSuspicious {
		t.Fatalf("expected auto block from file")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("AUTO_BLOCK_SUSPICIOUS", "sometimes")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadTrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	nets, err := cfg.Security.TrustedProxyNets()
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	if len(nets) != 2 {
		t.Fatalf("expected 2 proxy networks, got %d", len(nets))
	}
	if nets[0].String() != "10.0.0.0/8" || nets[1].String() != "192.0.2.10/32" {
		t.Fatalf("unexpected networks %v", nets)
	}
}

func TestLoadRejectsBadTrustedProxy(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("TRUSTED_PROXIES", "not-a-network")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected invalid proxy error")
	}
}
