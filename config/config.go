package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

var (
	ErrMissingAccessSecret  = errors.New("JWT_ACCESS_SECRET is required")
	ErrMissingRefreshSecret = errors.New("JWT_REFRESH_SECRET is required")
	ErrSharedSigningSecret  = errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
)

// Config is built once at startup and passed down explicitly. Nothing reads
// the environment after Load returns.
type Config struct {
	AppEnv   string `yaml:"app_env"`
	HTTPAddr string `yaml:"http_addr"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Mail     MailConfig     `yaml:"mail"`
	Security SecurityConfig `yaml:"security"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type JWTConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

type MailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
	AppBaseURL   string `yaml:"app_base_url"`
}

type SecurityConfig struct {
	TOTPIssuer               string `yaml:"totp_issuer"`
	RequireEmailVerification bool   `yaml:"require_email_verification"`
	AutoBlockSuspicious      bool   `yaml:"auto_block_suspicious"`
	SweepSchedule            string `yaml:"sweep_schedule"`
	CookieDomain             string `yaml:"cookie_domain"`
	SecureCookies            bool   `yaml:"secure_cookies"`
	// TrustedProxies lists the CIDRs (or bare addresses) of reverse proxies
	// whose X-Forwarded-For header is honoured. Empty means the TCP peer
	// address is the client address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

func defaults() Config {
	return Config{
		AppEnv:   "production",
		HTTPAddr: ":8080",
		Database: DatabaseConfig{Driver: "postgres"},
		Redis:    RedisConfig{Prefix: "stockroom:rl"},
		JWT: JWTConfig{
			Issuer:     "stockroom",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 60 * time.Minute,
		},
		Security: SecurityConfig{
			TOTPIssuer:               "Stockroom",
			RequireEmailVerification: true,
			SweepSchedule:            "@every 10m",
			SecureCookies:            true,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if present), then
// environment variables, each layer overriding the previous one. An empty path
// falls back to CONFIG_PATH and then config.yaml.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}
	if err := loadFile(path, &cfg, explicit); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.AccessSecret) == "" {
		return ErrMissingAccessSecret
	}
	if strings.TrimSpace(c.JWT.RefreshSecret) == "" {
		return ErrMissingRefreshSecret
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return ErrSharedSigningSecret
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if _, err := c.Security.TrustedProxyNets(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyNets parses TrustedProxies. A bare address is treated as a
// single-host network.
func (s SecurityConfig) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if !strings.Contains(value, "/") {
			ip := net.ParseIP(value)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", value)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func loadFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.AppEnv, "APP_ENV")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Redis.Prefix, "REDIS_PREFIX")
	setString(&cfg.JWT.AccessSecret, "JWT_ACCESS_SECRET")
	setString(&cfg.JWT.RefreshSecret, "JWT_REFRESH_SECRET")
	setString(&cfg.JWT.Issuer, "JWT_ISSUER")
	setString(&cfg.Mail.ResendAPIKey, "RESEND_API_KEY")
	setString(&cfg.Mail.From, "MAIL_FROM")
	setString(&cfg.Mail.AppBaseURL, "APP_BASE_URL")
	setString(&cfg.Security.TOTPIssuer, "TOTP_ISSUER")
	setString(&cfg.Security.SweepSchedule, "SWEEP_SCHEDULE")
	setString(&cfg.Security.CookieDomain, "COOKIE_DOMAIN")
	setList(&cfg.Security.TrustedProxies, "TRUSTED_PROXIES")

	if err := setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setDuration(&cfg.JWT.AccessTTL, "JWT_ACCESS_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.JWT.RefreshTTL, "JWT_REFRESH_TTL"); err != nil {
		return err
	}
	if err := setBool(&cfg.Security.RequireEmailVerification, "REQUIRE_EMAIL_VERIFICATION"); err != nil {
		return err
	}
	if err := setBool(&cfg.Security.AutoBlockSuspicious, "AUTO_BLOCK_SUSPICIOUS"); err != nil {
		return err
	}
	return setBool(&cfg.Security.SecureCookies, "COOKIE_SECURE")
}

func setString(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func setList(target *[]string, key string) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*target = items
}

func setInt(target *int, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func setBool(target *bool, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func setDuration(target *time.Duration, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}
