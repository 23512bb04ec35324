// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// Config captures every service configuration knob loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Render  RenderConfig  `mapstructure:"render"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Sheets  SheetsConfig  `mapstructure:"sheets"`
	Storage StorageConfig `mapstructure:"storage"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the ingress HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig governs the priority job queue.
type QueueConfig struct {
	// Backend selects "memory" or "redis".
	Backend        string `mapstructure:"backend"`
	RedisAddr      string `mapstructure:"redis_addr"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	DedupByJobID   bool   `mapstructure:"dedup_by_job_id"`
}

// WorkerConfig governs the worker pool.
type WorkerConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	LeaseTimeoutMs int `mapstructure:"lease_timeout_ms"`
}

// RenderConfig governs the headless render pipeline.
type RenderConfig struct {
	TimeoutMs      int `mapstructure:"timeout_ms"`
	SettleMs       int `mapstructure:"settle_ms"`
	ReloadSettleMs int `mapstructure:"reload_settle_ms"`
	PostScrollMs   int `mapstructure:"post_scroll_wait_ms"`
	MaxParallel    int `mapstructure:"max_parallel"`
}

// ProxyConfig governs the rendering-proxy fallback.
type ProxyConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIToken      string `mapstructure:"api_token"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
}

// Enabled reports whether a proxy API token is configured, matching
// the published external interface's documented default.
func (p ProxyConfig) Enabled() bool { return p.APIToken != "" }

// SheetsConfig governs the Google Sheets adapter and scheduler.
type SheetsConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	MaxColumns      int    `mapstructure:"max_columns"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// Backend selects "memory" or "postgres".
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// NotifyConfig governs the notification hub and its sinks.
type NotifyConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`

	// PubSub fans events out to an external bus sink in addition to the
	// built-in log/metrics/SSE sinks. Disabled unless ProjectID and
	// Topic are both set.
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig configures the optional Google Cloud Pub/Sub event sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether enough Pub/Sub configuration is present to
// construct a topic client.
func (p PubSubConfig) Enabled() bool { return p.ProjectID != "" && p.Topic != "" }

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKAUDITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 2000)
	v.SetDefault("queue.dedup_by_job_id", true)

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.lease_timeout_ms", 0)

	v.SetDefault("render.timeout_ms", 60000)
	v.SetDefault("render.settle_ms", 3000)
	v.SetDefault("render.reload_settle_ms", 5000)
	v.SetDefault("render.post_scroll_wait_ms", 2000)
	v.SetDefault("render.max_parallel", 5)

	v.SetDefault("proxy.retry_attempts", 2)
	v.SetDefault("proxy.timeout_ms", 60000)

	v.SetDefault("sheets.max_columns", linkaudit.ResultRangeWidth)

	v.SetDefault("storage.backend", "memory")

	v.SetDefault("notify.buffer_size", 4096)
	v.SetDefault("notify.max_batch_events", 1000)
	v.SetDefault("notify.max_batch_wait_ms", 500)
	v.SetDefault("notify.sink_timeout_ms", 10000)

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and the invariants the published
// external interface fixes.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1")
	}
	if c.Sheets.MaxColumns != linkaudit.ResultRangeWidth {
		return fmt.Errorf("sheets.max_columns must equal %d", linkaudit.ResultRangeWidth)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Render.MaxParallel < 1 {
		return fmt.Errorf("render.max_parallel must be >= 1")
	}
	return nil
}

// LeaseTimeout returns the worker's lease timeout as a duration:
// worker.lease_timeout_ms when positive, otherwise (the default) 1.5x
// the render timeout.
func (c Config) LeaseTimeout() time.Duration {
	if c.Worker.LeaseTimeoutMs > 0 {
		return time.Duration(c.Worker.LeaseTimeoutMs) * time.Millisecond
	}
	return time.Duration(float64(c.Render.TimeoutMs)*1.5) * time.Millisecond
}
