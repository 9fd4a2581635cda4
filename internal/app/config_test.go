package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/costing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/frontier")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.Equal(t, 10, cfg.OutboxMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.OutboxTickTimeout)
	assert.True(t, cfg.OutboxAdvisoryLock)
	assert.True(t, cfg.OutboxWorkerEnabled)
	assert.Equal(t, uint32(5), cfg.OutboxBreakerFailures)
	assert.Equal(t, ":9090", cfg.OpsAddr)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, costing.ModeDirect, cfg.Mode())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "200")
	t.Setenv("OUTBOX_ADVISORY_LOCK", "false")
	t.Setenv("COSTING_MODE", "overlap")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.OutboxBatchSize)
	assert.False(t, cfg.OutboxAdvisoryLock)
	assert.Equal(t, costing.ModeOverlap, cfg.Mode())
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
}

func TestLoadConfigRejectsOutOfRange(t *testing.T) {
	cases := map[string][2]string{
		"batch too large": {"OUTBOX_BATCH_SIZE", "1001"},
		"batch zero":      {"OUTBOX_BATCH_SIZE", "0"},
		"max retries":     {"OUTBOX_MAX_RETRIES", "0"},
		"pool too small":  {"PG_MAX_CONNS", "1"},
		"costing mode":    {"COSTING_MODE", "hybrid"},
		"log format":      {"LOG_FORMAT", "xml"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestNewLoggerJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", "event_outbox_id", 7)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, float64(7), record["event_outbox_id"])
	assert.Contains(t, record, "source")
}
