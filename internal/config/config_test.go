package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearIngestEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"INGEST_WS_URL", "INGEST_INSTRUMENTS", "INGEST_CHANNELS",
		"INGEST_BATCH_MAX_SIZE", "INGEST_FLUSH_INTERVAL_MS",
		"INGEST_SNAPSHOT_INTERVAL_SEC", "INGEST_ORDERBOOK_MAX_DEPTH",
		"INGEST_BACKOFF_BASE", "INGEST_BACKOFF_CAP",
		"INGEST_METRICS_PORT", "INGEST_LOG_LEVEL",
		"INGEST_STORE_DSN", "INGEST_STORE_SCHEMA",
		"INGEST_STORE_WRITER_TIMEOUT_MS", "INGEST_STORE_HEALTHCHECK_URL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearIngestEnv(t)
	os.Setenv("INGEST_WS_URL", "wss://ws.example.com/public")
	os.Setenv("INGEST_INSTRUMENTS", "BTC-USDT-SWAP,ETH-USDT-SWAP")
	os.Setenv("INGEST_CHANNELS", "trades,books")
	os.Setenv("INGEST_STORE_DSN", "postgres://localhost/ingest")
	defer clearIngestEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.BatchMaxSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval())
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval())
	assert.Equal(t, 50, cfg.OrderbookMaxDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase())
	assert.Equal(t, 30*time.Second, cfg.BackoffCap())
	assert.Equal(t, "market_raw", cfg.Store.Schema)
	assert.Equal(t, time.Duration(0), cfg.Store.WriterTimeout())
	assert.Equal(t, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, cfg.Instruments)
	assert.Equal(t, []string{"trades", "books"}, cfg.Channels)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearIngestEnv(t)
	os.Setenv("INGEST_WS_URL", "wss://ws.example.com/public")
	os.Setenv("INGEST_INSTRUMENTS", "BTC-USDT-SWAP")
	os.Setenv("INGEST_CHANNELS", "trades")
	os.Setenv("INGEST_STORE_DSN", "postgres://localhost/ingest")
	os.Setenv("INGEST_BATCH_MAX_SIZE", "1000")
	os.Setenv("INGEST_BACKOFF_CAP", "10")
	defer clearIngestEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.BatchMaxSize)
	assert.Equal(t, 10*time.Second, cfg.BackoffCap())
}

func TestValidateRequiresCoreFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)

	cfg = &Config{
		WSURL:             "wss://ws.example.com",
		Instruments:       []string{"BTC-USDT-SWAP"},
		Channels:          []string{"trades"},
		BatchMaxSize:      5000,
		FlushIntervalMS:   5000,
		OrderbookMaxDepth: 50,
		Store:             StoreConfig{DSN: "postgres://localhost/ingest"},
	}
	assert.NoError(t, cfg.Validate())
}
