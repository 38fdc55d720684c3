package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"HTTP_ADDR", "GRPC_ADDR", "DATABASE_DSN", "CORS_ALLOWED_ORIGINS", "CACHE_PREFIX",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "LOG_LEVEL", "LOG_PRETTY",
	"HTTP_RATE_BURST", "HTTP_RATE_PER_SEC", "JWT_SECRET", "JWT_ISSUER",
	"JWT_ACCESS_TOKEN_EXPIRY", "JWT_REFRESH_TOKEN_EXPIRY", "TRUSTED_PROXIES",
}

// clearEnv blanks every key for the test; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, 50, cfg.RateBurst)
	assert.Equal(t, 20, cfg.RatePerSec)
	assert.Equal(t, time.Hour, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.TrustedProxies)

	assert.True(t, cfg.JWT.GeneratedSecret)
	assert.Len(t, cfg.JWT.Secret, 2*MinSecretLength)

	again, err := FromEnv()
	require.NoError(t, err)
	assert.NotEqual(t, cfg.JWT.Secret, again.JWT.Secret, "generated secrets must be random")
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":1234")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("JWT_SECRET", "abcdefghijklmnopqrstuvwxyz012345")
	t.Setenv("JWT_ACCESS_TOKEN_EXPIRY", "60")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7,fd00::1/64")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.HTTPAddr)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.LogPretty)
	assert.False(t, cfg.JWT.GeneratedSecret)
	assert.Equal(t, []byte("abcdefghijklmnopqrstuvwxyz012345"), cfg.JWT.Secret)
	assert.Equal(t, time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("fd00::/64"),
	}, cfg.TrustedProxies)
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]string{
		"JWT_SECRET":              "too-short",
		"REDIS_DB":                "zero",
		"LOG_PRETTY":              "sometimes",
		"JWT_ACCESS_TOKEN_EXPIRY": "0",
		"HTTP_RATE_BURST":         "lots",
		"TRUSTED_PROXIES":         "10.0.0.0/33",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("GRPC_ADDR")
	os.Unsetenv("LOG_LEVEL")
	t.Setenv("HTTP_ADDR", ":7000")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:6000\nGRPC_ADDR=:6001\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("GRPC_ADDR")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr, "environment wins over the file")
	assert.Equal(t, ":6001", cfg.GRPCAddr)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
