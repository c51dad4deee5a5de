// Package config defines the ingestor's configuration, loaded entirely
// from environment variables (no YAML file — unlike the teacher, this
// service's configuration surface has no file-based secrets to default
// from).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the ingestor's complete runtime configuration. Interval
// fields are kept as their raw env-specified units (milliseconds or
// seconds) rather than time.Duration directly, since mapstructure's
// default numeric-to-Duration conversion would otherwise treat a bare
// env integer as nanoseconds; FlushInterval/SnapshotInterval/
// BackoffBase/BackoffCap convert on access.
type Config struct {
	WSURL       string   `mapstructure:"ws_url"`
	Instruments []string `mapstructure:"instruments"`
	Channels    []string `mapstructure:"channels"`

	BatchMaxSize        int     `mapstructure:"batch_max_size"`
	FlushIntervalMS     int     `mapstructure:"flush_interval_ms"`
	SnapshotIntervalSec int     `mapstructure:"snapshot_interval_sec"`
	OrderbookMaxDepth   int     `mapstructure:"orderbook_max_depth"`
	BackoffBaseSec      float64 `mapstructure:"backoff_base"`
	BackoffCapSec       float64 `mapstructure:"backoff_cap"`

	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`

	Store StoreConfig `mapstructure:"store"`
}

// StoreConfig holds the writer's connection settings — this port's own
// addition, since spec.md scopes the store's own configuration as an
// external collaborator's concern and leaves the concrete knobs to the
// implementation.
type StoreConfig struct {
	DSN             string `mapstructure:"dsn"`
	Schema          string `mapstructure:"schema"`
	WriterTimeoutMS int    `mapstructure:"writer_timeout_ms"` // 0 = unbounded
	HealthCheckURL  string `mapstructure:"healthcheck_url"`
}

func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSec) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec * float64(time.Second))
}

func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSec * float64(time.Second))
}

func (c StoreConfig) WriterTimeout() time.Duration {
	return time.Duration(c.WriterTimeoutMS) * time.Millisecond
}

// Load reads configuration purely from the environment, prefixed
// `INGEST_` — grounded on the teacher's `viper.New()` +
// `SetEnvPrefix`/`AutomaticEnv`/`SetEnvKeyReplacer` shape, minus the
// YAML-file layer the teacher needs for its wallet/API secrets.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch_max_size", 5000)
	v.SetDefault("flush_interval_ms", 5000)
	v.SetDefault("snapshot_interval_sec", 30)
	v.SetDefault("orderbook_max_depth", 50)
	v.SetDefault("backoff_base", 0.5)
	v.SetDefault("backoff_cap", 30)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("store.schema", "market_raw")
	v.SetDefault("store.writer_timeout_ms", 0)

	for _, key := range []string{
		"ws_url", "instruments", "channels",
		"batch_max_size", "flush_interval_ms", "snapshot_interval_sec",
		"orderbook_max_depth", "backoff_base", "backoff_cap",
		"metrics_port", "log_level",
		"store.dsn", "store.schema", "store.writer_timeout_ms", "store.healthcheck_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Instruments = splitCSV(v.GetString("instruments"))
	cfg.Channels = splitCSV(v.GetString("channels"))

	return &cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks required fields and value ranges, grounded on the
// teacher's Validate() shape (ordered required-field checks returning the
// first failure).
func (c *Config) Validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("ws_url is required (set INGEST_WS_URL)")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments is required (set INGEST_INSTRUMENTS, comma-separated)")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("channels is required (set INGEST_CHANNELS, comma-separated)")
	}
	if c.BatchMaxSize <= 0 {
		return fmt.Errorf("batch_max_size must be > 0")
	}
	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("flush_interval_ms must be > 0")
	}
	if c.OrderbookMaxDepth <= 0 {
		return fmt.Errorf("orderbook_max_depth must be > 0")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required (set INGEST_STORE_DSN)")
	}
	return nil
}
