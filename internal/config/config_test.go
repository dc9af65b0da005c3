package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ECON_ADMIN_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "data/economy.db", cfg.DB.Path)
	assert.Equal(t, "secret", cfg.Admin.Key)
	assert.Equal(t, 20*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 4, cfg.LLM.Concurrency)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, time.Duration(0), cfg.Economy.EpochInterval)
	assert.False(t, cfg.App.TrustProxy)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ECON_PORT", "9090")
	t.Setenv("ECON_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ECON_EPOCH_INTERVAL", "15m")
	t.Setenv("ECON_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("ECON_TRUST_PROXY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 15*time.Minute, cfg.Economy.EpochInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.Origins())
	assert.True(t, cfg.App.TrustProxy)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, AppConfig{LogLevel: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, AppConfig{LogLevel: "warning"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, AppConfig{LogLevel: "bogus"}.SlogLevel())
}
