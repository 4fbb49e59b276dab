// ABOUTME: Gateway configuration resolved from the environment.
// ABOUTME: Builds the lib/pq connection string from resolved values.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds everything the gateway needs: resolved database
// connection parameters, the listen address, and the pool/session
// knobs. It is read once at process start; nothing inside the gateway
// reads the environment after that.
type Config struct {
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"demouser"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"demo123"`
	Database string `env:"POSTGRES_DB" envDefault:"demodb"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	Listen         string        `env:"PGMCP_LISTEN" envDefault:":8100"`
	PoolSize       int           `env:"PGMCP_POOL_SIZE" envDefault:"10"`
	AcquireTimeout time.Duration `env:"PGMCP_ACQUIRE_TIMEOUT" envDefault:"5s"`
	IdleTimeout    time.Duration `env:"PGMCP_IDLE_TIMEOUT" envDefault:"5m"`
}

// Load reads a .env file if one is present, then resolves the
// configuration from the environment.
func Load() (*Config, error) {
	// Best effort; a missing .env file is the normal case.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pool or server cannot work with.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid database port %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name must not be empty")
	}
	return nil
}

// DSN returns the lib/pq connection string for the resolved values.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Redacted returns a loggable description without the password.
func (c *Config) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}
