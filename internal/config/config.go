// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the complete runtime configuration of the admission server.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string         `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath  string         `env:"SQLITE_PATH" envDefault:"admission.db"`
	Database    DatabaseConfig `envPrefix:"DB_"`

	// OperatorJWTSecret signs operator bearer tokens. Empty disables
	// operator authentication, which is only acceptable in development.
	OperatorJWTSecret string `env:"OPERATOR_JWT_SECRET"`

	Engine EngineConfig

	PromotionSweepInterval time.Duration `env:"PROMOTION_SWEEP_INTERVAL" envDefault:"5s"`
	OTelEndpoint           string        `env:"OTEL_ENDPOINT"`
	SeedFile               string        `env:"SEED_FILE"`
}

// EngineConfig bounds the critical sections of the admission engine.
type EngineConfig struct {
	MaxRetries             uint          `env:"ADMISSION_MAX_RETRIES" envDefault:"5"`
	CriticalSectionTimeout time.Duration `env:"CRITICAL_SECTION_TIMEOUT" envDefault:"3s"`
	LockTimeout            time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:"postgres"`
	Name     string `env:"NAME" envDefault:"admission"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"20"`
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot produce a working server.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.Engine.MaxRetries == 0 {
		return fmt.Errorf("ADMISSION_MAX_RETRIES must be at least 1")
	}
	if c.Engine.CriticalSectionTimeout <= 0 {
		return fmt.Errorf("CRITICAL_SECTION_TIMEOUT must be positive")
	}
	if c.PromotionSweepInterval <= 0 {
		return fmt.Errorf("PROMOTION_SWEEP_INTERVAL must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
