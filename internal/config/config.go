// Package config loads and validates server configuration from the environment and an optional file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds server configuration.
type Config struct {
	// HTTPAddr is the address of the session HTTP API.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// HealthAddr is the gRPC health endpoint; empty disables it.
	HealthAddr string `mapstructure:"HEALTH_ADDR"`
	// Storage selects the principal/audit store: postgres or memory.
	Storage string `mapstructure:"STORAGE"`
	// RefreshBackend selects the refresh credential store: postgres, redis or memory.
	// Empty follows Storage.
	RefreshBackend string `mapstructure:"REFRESH_BACKEND"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	// MigrateOnStart runs goose migrations before serving.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTTLRaw is the fixed refresh credential horizon (e.g. "168h").
	RefreshTTLRaw string `mapstructure:"REFRESH_TTL"`

	// PasswordHasher is argon2id or bcrypt; both formats always verify.
	PasswordHasher string `mapstructure:"PASSWORD_HASHER"`
	BcryptCost     int    `mapstructure:"BCRYPT_COST"`

	RevokeOnPasswordChange bool `mapstructure:"REVOKE_ON_PASSWORD_CHANGE"`

	LoginMaxFails   int     `mapstructure:"LOGIN_MAX_FAILS"`
	LoginWindowRaw  string  `mapstructure:"LOGIN_WINDOW"`
	LoginBlockRaw   string  `mapstructure:"LOGIN_BLOCK"`
	RateLimitRPS    float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int     `mapstructure:"RATE_LIMIT_BURST"`
	AuditBuffer     int     `mapstructure:"AUDIT_BUFFER"`
	JanitorInterval string  `mapstructure:"JANITOR_INTERVAL"`

	// Env is the application environment; "production" turns on Secure cookies and JSON logs.
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                 ":8080",
	"HEALTH_ADDR":               ":8081",
	"STORAGE":                   BackendPostgres,
	"REFRESH_BACKEND":           "",
	"DATABASE_URL":              "",
	"REDIS_ADDR":                "localhost:6379",
	"REDIS_PASSWORD":            "",
	"REDIS_DB":                  0,
	"MIGRATE_ON_START":          true,
	"JWT_SECRET":                "",
	"JWT_ISSUER":                "lms-auth",
	"JWT_ACCESS_TTL":            "1h",
	"REFRESH_TTL":               "168h",
	"PASSWORD_HASHER":           "argon2id",
	"BCRYPT_COST":               12,
	"REVOKE_ON_PASSWORD_CHANGE": true,
	"LOGIN_MAX_FAILS":           5,
	"LOGIN_WINDOW":              "15m",
	"LOGIN_BLOCK":               "15m",
	"RATE_LIMIT_RPS":            5.0,
	"RATE_LIMIT_BURST":          10,
	"AUDIT_BUFFER":              256,
	"JANITOR_INTERVAL":          "10m",
	"APP_ENV":                   "development",
	"LOG_LEVEL":                 "info",
}

// Load reads the optional file (path, or .env in the working directory when path is empty),
// then overlays environment variables. Missing files are ignored.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	} else {
		v.SetConfigFile(path)
		if strings.HasSuffix(path, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.Storage {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("config: STORAGE must be postgres or memory, got %q", c.Storage)
	}
	switch c.RefreshStorage() {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: REFRESH_BACKEND must be postgres, redis or memory, got %q", c.RefreshBackend)
	}
	if c.RefreshStorage() == BackendPostgres && c.Storage != BackendPostgres {
		return errors.New("config: REFRESH_BACKEND=postgres requires STORAGE=postgres")
	}
	if c.Storage == BackendPostgres && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set when STORAGE=postgres")
	}
	if c.RefreshStorage() == BackendRedis && c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR must be set when REFRESH_BACKEND=redis")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.Production() && len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes in production")
	}
	for key, raw := range map[string]string{
		"JWT_ACCESS_TTL":   c.JWTAccessTTL,
		"REFRESH_TTL":      c.RefreshTTLRaw,
		"LOGIN_WINDOW":     c.LoginWindowRaw,
		"LOGIN_BLOCK":      c.LoginBlockRaw,
		"JANITOR_INTERVAL": c.JanitorInterval,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
		}
	}
	switch c.PasswordHasher {
	case "argon2id", "bcrypt":
	default:
		return fmt.Errorf("config: PASSWORD_HASHER must be argon2id or bcrypt, got %q", c.PasswordHasher)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimitRPS < 0 {
		return errors.New("config: RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

// RefreshStorage resolves the effective refresh backend.
func (c *Config) RefreshStorage() string {
	if c.RefreshBackend == "" {
		return c.Storage
	}
	return c.RefreshBackend
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool { return strings.EqualFold(c.Env, "production") }

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration { return mustDuration(c.JWTAccessTTL, time.Hour) }

// RefreshTTL returns the refresh credential horizon.
func (c *Config) RefreshTTL() time.Duration { return mustDuration(c.RefreshTTLRaw, 168*time.Hour) }

// LoginWindow returns the failure counting window.
func (c *Config) LoginWindow() time.Duration { return mustDuration(c.LoginWindowRaw, 15*time.Minute) }

// LoginBlock returns the lockout duration.
func (c *Config) LoginBlock() time.Duration { return mustDuration(c.LoginBlockRaw, 15*time.Minute) }

// JanitorEvery returns the expired-refresh purge interval.
func (c *Config) JanitorEvery() time.Duration { return mustDuration(c.JanitorInterval, 10*time.Minute) }

func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
