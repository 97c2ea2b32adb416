package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.MatcherTopN)
	assert.Equal(t, 20, cfg.PlatformFeePercent)
	assert.Equal(t, "usd", cfg.PaymentCurrency)
	assert.Equal(t, "washers_geo", cfg.RedisGeoKey)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.RunMigrations)
}

func TestLoadServerConfig_FromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("MATCHER_TOP_N", "3")
	t.Setenv("PAYMENT_CURRENCY", "EUR")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.MatcherTopN)
	assert.Equal(t, "eur", cfg.PaymentCurrency)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfig_JoinsErrors(t *testing.T) {
	t.Setenv("HTTP_WRITE_TIMEOUT", "soon")
	t.Setenv("MATCHER_TOP_N", "0")
	t.Setenv("PLATFORM_FEE_PERCENT", "150")

	_, err := LoadServerConfig()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP_WRITE_TIMEOUT")
	assert.Contains(t, err.Error(), "MATCHER_TOP_N must be > 0")
	assert.Contains(t, err.Error(), "PLATFORM_FEE_PERCENT")
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "legacy:9092")
	t.Setenv("CONSUMER_RETRY_DELAY", "50ms")

	cfg, err := LoadConsumerConfig()

	require.NoError(t, err)
	assert.Equal(t, []string{"legacy:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 3, cfg.RetryAttempts)

	t.Setenv("CONSUMER_RETRY_ATTEMPTS", "0")
	_, err = LoadConsumerConfig()
	assert.Error(t, err)
}
