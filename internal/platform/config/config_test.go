package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"CERTIFY_ADDR", "CANONICAL_MODE", "ISSUER_PRIVATE_KEYS", "KAFKA_BROKERS", "REDIS_URL", "BATCH_VERIFY_CONCURRENCY", "RATE_LIMIT_DISABLED", "RATE_LIMIT_VERIFY", "RATE_LIMIT_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "toplevel", cfg.CanonicalMode)
	assert.Equal(t, DevRootAdmin, cfg.RootAdmin)
	assert.Nil(t, cfg.IssuerKeys)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, "certify.certificates", cfg.Kafka.Topic)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Redis.CacheTTL)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 120, cfg.RateLimit.Verify)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CANONICAL_MODE", "recursive")
	t.Setenv("ISSUER_PRIVATE_KEYS", " 0xaa, ,0xbb ")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("BATCH_VERIFY_CONCURRENCY", "not-a-number")
	t.Setenv("REDIS_READ_TIMEOUT", "750ms")
	t.Setenv("CERTIFY_ENV", "production")
	t.Setenv("RATE_LIMIT_DISABLED", "true")
	t.Setenv("RATE_LIMIT_BATCH", "3")

	cfg := FromEnv()
	assert.Equal(t, "recursive", cfg.CanonicalMode)
	assert.Equal(t, []string{"0xaa", "0xbb"}, cfg.IssuerKeys)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.Redis.ReadTimeout)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 3, cfg.RateLimit.Batch)
}
