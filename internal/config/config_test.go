package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_USER", "auth")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_NAME", "auth")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg := Load()

	assert.Equal(t, "3306", cfg.DBPort)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 15*time.Minute, cfg.RefreshTTL)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "session-auth", cfg.JWTIssuer)
	assert.False(t, cfg.EventsEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL", "1m")
	t.Setenv("REFRESH_TOKEN_TTL", "1h")
	t.Setenv("EVENTS_ENABLED", "yes")
	t.Setenv("RABBITMQ_URL", "amqp://u:p@broker:5672/")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.AccessTTL)
	assert.Equal(t, time.Hour, cfg.RefreshTTL)
	assert.True(t, cfg.EventsEnabled)
	assert.Equal(t, "amqp://u:p@broker:5672/", cfg.RabbitMQURL)
}

func TestValidate(t *testing.T) {
	base := Config{
		JWTSecret:    "0123456789abcdef0123456789abcdef",
		AccessTTL:    5 * time.Minute,
		RefreshTTL:   15 * time.Minute,
		StoreTimeout: time.Second,
	}
	require.NoError(t, base.Validate())

	short := base
	short.JWTSecret = "short"
	assert.ErrorContains(t, short.Validate(), "JWT_SECRET")

	inverted := base
	inverted.AccessTTL = 15 * time.Minute
	assert.ErrorContains(t, inverted.Validate(), "shorter than")

	noTimeout := base
	noTimeout.StoreTimeout = 0
	assert.ErrorContains(t, noTimeout.Validate(), "STORE_TIMEOUT")

	partialAdmin := base
	partialAdmin.AdminEmail = "root@example.com"
	assert.False(t, partialAdmin.HasBootstrapAdmin())
	assert.ErrorContains(t, partialAdmin.Validate(), "BOOTSTRAP_ADMIN")

	fullAdmin := partialAdmin
	fullAdmin.AdminUsername = "root"
	fullAdmin.AdminPassword = "s3cret-password"
	assert.True(t, fullAdmin.HasBootstrapAdmin())
	assert.NoError(t, fullAdmin.Validate())
}

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()

	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 2*time.Second, cfg.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.TTL)
	assert.Equal(t, "ip_route", cfg.KeyStrategy)
}

func TestLoadNotifierConfig(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://fallback:5672/")
	t.Setenv("NOTIFIER_PREFETCH", "5")

	cfg := LoadNotifierConfig()

	assert.Equal(t, "amqp://fallback:5672/", cfg.RabbitMQURL)
	assert.Equal(t, 5, cfg.Prefetch)
	assert.Equal(t, "info", cfg.LogLevel)
}
