// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	DB       DBConfig       `mapstructure:"db"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP status API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WorkerConfig governs the claim loop.
type WorkerConfig struct {
	PollIntervalMs       int  `mapstructure:"poll_interval_ms"`
	Concurrency          int  `mapstructure:"concurrency"`
	DefaultMaxRetries    int  `mapstructure:"default_max_retries"`
	JobTimeoutSeconds    int  `mapstructure:"job_timeout_seconds"`
	ShutdownGraceSeconds int  `mapstructure:"shutdown_grace_seconds"`
	StaleClaimMinutes    int  `mapstructure:"stale_claim_minutes"`
	MockMode             bool `mapstructure:"mock_mode"`
}

// DBConfig controls access to the Postgres job table.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// ScraperConfig governs the plain-HTTP profile adapter.
type ScraperConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateRPS        float64 `mapstructure:"rate_rps"`
	RateBurst      int     `mapstructure:"rate_burst"`
}

// HeadlessConfig configures the browser rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// CloudConfig configures the hosted actor platform adapter.
type CloudConfig struct {
	Endpoint       string            `mapstructure:"endpoint"`
	Token          string            `mapstructure:"token"`
	Actors         map[string]string `mapstructure:"actors"`
	PollIntervalMs int               `mapstructure:"poll_interval_ms"`
	MaxWaitSeconds int               `mapstructure:"max_wait_seconds"`
}

// PubSubConfig holds metadata for terminal-transition events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where raw artifacts are kept.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPEWORKER")
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
	v.SetDefault("server.port", 8090)
	v.SetDefault("worker.poll_interval_ms", 5000)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.default_max_retries", 3)
	v.SetDefault("worker.job_timeout_seconds", 30)
	v.SetDefault("worker.shutdown_grace_seconds", 30)
	v.SetDefault("worker.stale_claim_minutes", 0)
	v.SetDefault("worker.mock_mode", false)
	v.SetDefault("db.table", "scrape_jobs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("scraper.user_agent", "osintwatch-scrapeworker/0.1")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.rate_rps", 1)
	v.SetDefault("scraper.rate_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("cloud.endpoint", "https://api.apify.com")
	v.SetDefault("cloud.poll_interval_ms", 3000)
	v.SetDefault("cloud.max_wait_seconds", 300)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.PollIntervalMs <= 0 {
		return fmt.Errorf("worker.poll_interval_ms must be > 0")
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.job_timeout_seconds must be > 0")
	}
	if !c.Worker.MockMode && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required unless worker.mock_mode is set")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Cloud.Token != "" && len(c.Cloud.Actors) == 0 {
		return fmt.Errorf("cloud.actors must map at least one platform when cloud.token is set")
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider must be none, memory, or gcs")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}
	return nil
}

// PollInterval returns the claim loop cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// JobTimeout returns the per-job scrape budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// ShutdownGrace returns how long in-flight jobs may outlive a shutdown
// signal.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Worker.ShutdownGraceSeconds) * time.Second
}

// StaleClaimAfter returns the stale claim threshold. Zero means the
// worker derives one from the poll interval.
func (c Config) StaleClaimAfter() time.Duration {
	return time.Duration(c.Worker.StaleClaimMinutes) * time.Minute
}
