package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Run from an empty directory so no stray config.yaml is picked up
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "loyalty-engine", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "loyalty.db", cfg.Database.Path)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, DevJWTSecret, cfg.Auth.JWTSecret)
		assert.Equal(t, 30*24*time.Hour, cfg.Vouchers.Validity)
		assert.Equal(t, 5, cfg.Vouchers.CodeRetries)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, time.Hour, cfg.Scheduler.ExpiryInterval)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("loads from environment variables", func(t *testing.T) {
		t.Setenv("LOYALTY_SERVER_PORT", "9090")
		t.Setenv("LOYALTY_DATABASE_PATH", ":memory:")
		t.Setenv("LOYALTY_LOG_LEVEL", "debug")
		t.Setenv("LOYALTY_VOUCHERS_VALIDITY", "72h")
		t.Setenv("LOYALTY_REDIS_ENABLED", "true")
		t.Setenv("LOYALTY_SCHEDULER_ENABLED", "true")
		t.Setenv("LOYALTY_SCHEDULER_EXPIRY_INTERVAL", "10m")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, ":memory:", cfg.Database.Path)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 72*time.Hour, cfg.Vouchers.Validity)
		assert.True(t, cfg.Redis.Enabled)
		assert.True(t, cfg.Scheduler.Enabled)
		assert.Equal(t, 10*time.Minute, cfg.Scheduler.ExpiryInterval)
	})

	t.Run("loads from explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loyalty.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
vouchers:
  code_retries: 9
cors:
  allowed_origins:
    - https://app.example.com
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, 9, cfg.Vouchers.CodeRetries)
		assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero retries", func(c *Config) { c.Vouchers.CodeRetries = -1 }, "vouchers.code_retries"},
		{"fast scheduler", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.ExpiryInterval = time.Millisecond
		}, "scheduler.expiry_interval"},
		{"production dev secret", func(c *Config) {
			c.App.Env = "production"
			c.CORS.AllowedOrigins = []string{"https://app.example.com"}
		}, "auth.jwt_secret"},
		{"production wildcard cors", func(c *Config) {
			c.App.Env = "production"
			c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
		}, "cors.allowed_origins"},
		{"production ok", func(c *Config) {
			c.App.Env = "production"
			c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.CORS.AllowedOrigins = []string{"https://app.example.com"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
