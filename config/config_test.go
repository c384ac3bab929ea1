package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("INGEST_ENABLED", "")
	t.Setenv("INGEST_POLL_INTERVAL_MINUTES", "")

	cfg := Load()
	assert.Equal(t, 10*time.Minute, cfg.Ingestion.PollInterval)
	assert.Equal(t, "11:00", cfg.Ingestion.WindowStart)
	assert.Equal(t, "22:00", cfg.Ingestion.WindowEnd)
	assert.Equal(t, time.Minute, cfg.Ingestion.ErrorCooldown)
	assert.True(t, cfg.Ingestion.Enabled)
	assert.Equal(t, "processed-tcg", cfg.Ingestion.HandledLabel)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("INGEST_ENABLED", "false")
	t.Setenv("INGEST_POLL_INTERVAL_MINUTES", "3")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "60")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Ingestion.Enabled)
	assert.Equal(t, 3*time.Minute, cfg.Ingestion.PollInterval)
	assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 0, cfg.Redis.DB)
}
