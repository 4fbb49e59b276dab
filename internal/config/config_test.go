// ABOUTME: Tests for environment-driven configuration.
// ABOUTME: Covers defaults, overrides, validation, and DSN building.
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "demodb", cfg.Database)
	assert.Equal(t, ":8100", cfg.Listen)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_DB", "orders")
	t.Setenv("PGMCP_POOL_SIZE", "3")
	t.Setenv("PGMCP_IDLE_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, "orders", cfg.Database)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero pool size",
			mutate:  func(c *Config) { c.PoolSize = 0 },
			wantErr: "pool size",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "port",
		},
		{
			name:    "empty database",
			mutate:  func(c *Config) { c.Database = "" },
			wantErr: "database name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Host:     "localhost",
				Port:     5432,
				Database: "demodb",
				PoolSize: 10,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		Host:     "mcp-postgres-db",
		Port:     5432,
		User:     "demouser",
		Password: "demo123",
		Database: "demodb",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=mcp-postgres-db port=5432 user=demouser password=demo123 dbname=demodb sslmode=disable",
		cfg.DSN())
}

func TestRedactedOmitsPassword(t *testing.T) {
	cfg := &Config{
		Host:     "db",
		Port:     5432,
		User:     "svc",
		Password: "hunter2",
		Database: "orders",
	}
	assert.Equal(t, "svc@db:5432/orders", cfg.Redacted())
	assert.NotContains(t, cfg.Redacted(), "hunter2")
}
