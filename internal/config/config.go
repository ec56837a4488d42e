// Package config loads ledgerd configuration from the environment, an
// optional .env file and an optional YAML catalog seed.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full ledgerd configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Rail     RailConfig
	Auth     AuthConfig
	Logging  LoggingConfig
	Catalog  CatalogConfig
}

type ServerConfig struct {
	Addr            string        `env:"LEDGER_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"LEDGER_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"LEDGER_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT,default=15s"`
	RateLimit       float64       `env:"LEDGER_RATE_LIMIT,default=0"`
	RateBurst       int           `env:"LEDGER_RATE_BURST,default=0"`
	AuditSize       int           `env:"LEDGER_AUDIT_SIZE,default=200"`
	AuditPath       string        `env:"LEDGER_AUDIT_PATH"`
	CORSOrigins     string        `env:"LEDGER_CORS_ORIGINS"`
}

// DatabaseConfig selects the postgres catalog. An empty DSN keeps state in
// memory.
type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_DSN"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	Migrate         bool          `env:"DATABASE_MIGRATE,default=true"`
}

// RedisConfig enables the cross-replica serialization lock when Addr is set.
type RedisConfig struct {
	Addr       string        `env:"REDIS_ADDR"`
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `env:"REDIS_DB,default=0"`
	LockPrefix string        `env:"REDIS_LOCK_PREFIX,default=issuance-ledger:"`
	LockTTL    time.Duration `env:"REDIS_LOCK_TTL,default=30s"`
}

// RailConfig points at a remote payment rail. Without an endpoint the
// in-memory rail is used.
type RailConfig struct {
	Endpoint string        `env:"PAYMENT_RAIL_URL"`
	APIKey   string        `env:"PAYMENT_RAIL_KEY"`
	Timeout  time.Duration `env:"PAYMENT_RAIL_TIMEOUT,default=10s"`
}

type AuthConfig struct {
	JWTSecret string `env:"LEDGER_JWT_SECRET"`
	Owner     string `env:"LEDGER_OWNER"`
	Admins    string `env:"LEDGER_ADMINS"`
	Minters   string `env:"LEDGER_MINTERS"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=ledgerd"`
}

type CatalogConfig struct {
	SeedPath       string `env:"CATALOG_SEED_PATH"`
	WindowSchedule string `env:"SALE_WINDOW_SCHEDULE,default=@every 15s"`
}

// Load reads .env files (missing files are ignored) and decodes the
// environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("LEDGER_RATE_LIMIT and LEDGER_RATE_BURST must not be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns && c.Database.MaxOpenConns > 0 {
		return fmt.Errorf("DATABASE_MAX_IDLE_CONNS (%d) exceeds DATABASE_MAX_OPEN_CONNS (%d)", c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if strings.TrimSpace(c.Auth.Owner) == "" && strings.TrimSpace(c.Auth.Admins) == "" && strings.TrimSpace(c.Auth.Minters) != "" {
		return errors.New("LEDGER_MINTERS requires LEDGER_OWNER or LEDGER_ADMINS")
	}
	// A mint can spend one rail timeout on the pull and another on a refund
	// while holding the ledger lease.
	if c.Redis.Addr != "" && c.Rail.Endpoint != "" && c.Redis.LockTTL <= 2*c.Rail.Timeout {
		return fmt.Errorf("REDIS_LOCK_TTL (%s) must exceed twice PAYMENT_RAIL_TIMEOUT (%s)", c.Redis.LockTTL, c.Rail.Timeout)
	}
	return nil
}

// Authorizer builds the authority policy. A lone owner gets the single-owner
// policy; admin or minter lists switch to the role policy.
func (a AuthConfig) Authorizer() auth.Authorizer {
	admins := auth.ParseCSVSet(a.Admins)
	minters := auth.ParseCSVSet(a.Minters)
	if len(admins) == 0 && len(minters) == 0 {
		return auth.NewOwnerPolicy(a.Owner)
	}
	if owner := strings.TrimSpace(a.Owner); owner != "" {
		admins = append(admins, owner)
	}
	policy := auth.NewRolePolicy(admins...)
	policy.Grant(auth.ActionOwnerMint, minters...)
	return policy
}

// SeedCaller is the identity catalog seeding runs as.
func (a AuthConfig) SeedCaller() string {
	if owner := strings.TrimSpace(a.Owner); owner != "" {
		return owner
	}
	if admins := auth.ParseCSVSet(a.Admins); len(admins) > 0 {
		return admins[0]
	}
	return ""
}

// Logger converts to the logger package configuration.
func (l LoggingConfig) Logger(component string) logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		FilePrefix: l.FilePrefix,
		Component:  component,
	}
}
