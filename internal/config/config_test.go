package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/crisisguard")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.Equal(t, 100, cfg.MatchLogLimit)
	assert.Equal(t, 120, cfg.AllowlistRateLimit)
	assert.Empty(t, cfg.TrustedProxies)

	assert.Equal(t, 15*time.Minute, cfg.Verification.Interval)
	assert.Equal(t, 60*time.Minute, cfg.Verification.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Verification.TargetPropagation)

	assert.Equal(t, 5*time.Second, cfg.Cache.NetworkTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.UseBundledFallback)
	assert.Equal(t, "browser_extension", cfg.DeviceType)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/crisisguard")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("NETWORK_TIMEOUT", "2s")
	t.Setenv("CACHE_TTL", "1h")
	t.Setenv("USE_BUNDLED_FALLBACK", "false")
	t.Setenv("VERIFICATION_INTERVAL", "1m")
	t.Setenv("MATCH_LOG_DAILY_LIMIT", "5")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,192.0.2.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:9090", cfg.PublicBaseURL)
	assert.Equal(t, 2*time.Second, cfg.Cache.NetworkTimeout)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Cache.UseBundledFallback)
	assert.Equal(t, time.Minute, cfg.Verification.Interval)
	assert.Equal(t, 5, cfg.MatchLogLimit)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/crisisguard")
	t.Setenv("NETWORK_TIMEOUT", "soon")
	t.Setenv("REDIS_DB", "x")
	t.Setenv("USE_BUNDLED_FALLBACK", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Cache.NetworkTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.True(t, cfg.Cache.UseBundledFallback)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr, "defaults still populated")
}
