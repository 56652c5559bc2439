// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetch transports.
const (
	TransportScraperAPI = "scraperapi"
	TransportHeadless   = "headless"
)

// Sink kinds accepted in sink.outputs.
const (
	SinkCSV      = "csv"
	SinkPostgres = "postgres"
	SinkGCS      = "gcs"
	SinkPubSub   = "pubsub"
	SinkMemory   = "memory"
)

var knownSinks = []string{SinkCSV, SinkPostgres, SinkGCS, SinkPubSub, SinkMemory}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig selects and tunes the upstream fetch client.
type FetchConfig struct {
	Transport      string  `mapstructure:"transport"`
	Endpoint       string  `mapstructure:"endpoint"`
	APIKey         string  `mapstructure:"api_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	UserAgent      string  `mapstructure:"user_agent"`
}

// Timeout returns the per-fetch timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// HeadlessConfig configures the local rendering transport.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// RetryConfig governs the per-operation retry loop.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// DispatchConfig bounds batch concurrency.
type DispatchConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// DiscoveryConfig describes how listing pages are addressed and scanned.
type DiscoveryConfig struct {
	ListingURLTemplate string `mapstructure:"listing_url_template"`
	LinkMarker         string `mapstructure:"link_marker"`
}

// SinkConfig lists the enabled result sinks and their settings.
type SinkConfig struct {
	Outputs  []string       `mapstructure:"outputs"`
	CSV      CSVConfig      `mapstructure:"csv"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// Enabled reports whether kind is listed in Outputs.
func (s SinkConfig) Enabled(kind string) bool {
	return slices.Contains(s.Outputs, kind)
}

// CSVConfig locates the local CSV file.
type CSVConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSConfig locates the bucket for CSV exports.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds the topic records are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// JobsConfig sizes the serve-mode job queue.
type JobsConfig struct {
	QueueDepth int `mapstructure:"queue_depth"`
	Workers    int `mapstructure:"workers"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("fetch.transport", TransportScraperAPI)
	v.SetDefault("fetch.endpoint", "https://api.scraperapi.com/")
	v.SetDefault("fetch.api_key", "")
	v.SetDefault("fetch.timeout_seconds", 70)
	v.SetDefault("fetch.rate_limit_rps", 0)
	v.SetDefault("fetch.rate_limit_burst", 1)
	v.SetDefault("fetch.user_agent", "listing-crawler/0.1")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay", "3s")
	v.SetDefault("dispatch.max_workers", 20)
	v.SetDefault("discovery.listing_url_template", "https://nextdoor.com/topics/{category}/{city}/{state}")
	v.SetDefault("discovery.link_marker", "/pages/")
	v.SetDefault("sink.outputs", []string{SinkCSV})
	v.SetDefault("sink.csv.path", "businesses.csv")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.table", "businesses")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.gcs.bucket", "")
	v.SetDefault("sink.gcs.prefix", "businesses")
	v.SetDefault("sink.pubsub.project_id", "")
	v.SetDefault("sink.pubsub.topic_id", "")
	v.SetDefault("jobs.queue_depth", 16)
	v.SetDefault("jobs.workers", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	switch c.Fetch.Transport {
	case TransportScraperAPI:
		if c.Fetch.APIKey == "" {
			errs = append(errs, errors.New("fetch.api_key must be set for the scraperapi transport"))
		}
	case TransportHeadless:
		if c.Headless.MaxParallel <= 0 {
			errs = append(errs, errors.New("headless.max_parallel must be > 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fetch.transport %q", c.Fetch.Transport))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be > 0"))
	}
	if c.Fetch.RateLimitRPS < 0 {
		errs = append(errs, errors.New("fetch.rate_limit_rps must be >= 0"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry.max_attempts must be > 0"))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, errors.New("retry.delay must be >= 0"))
	}
	if c.Dispatch.MaxWorkers <= 0 {
		errs = append(errs, errors.New("dispatch.max_workers must be > 0"))
	}
	if c.Discovery.ListingURLTemplate == "" {
		errs = append(errs, errors.New("discovery.listing_url_template must be set"))
	}
	if c.Jobs.QueueDepth <= 0 || c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("jobs.queue_depth and jobs.workers must be > 0"))
	}
	errs = append(errs, c.Sink.validate()...)
	return errors.Join(errs...)
}

func (s SinkConfig) validate() []error {
	var errs []error
	if len(s.Outputs) == 0 {
		errs = append(errs, errors.New("sink.outputs must name at least one sink"))
	}
	for _, kind := range s.Outputs {
		if !slices.Contains(knownSinks, kind) {
			errs = append(errs, fmt.Errorf("unknown sink %q", kind))
		}
	}
	if s.Enabled(SinkCSV) && s.CSV.Path == "" {
		errs = append(errs, errors.New("sink.csv.path must be set"))
	}
	if s.Enabled(SinkPostgres) && s.Postgres.DSN == "" {
		errs = append(errs, errors.New("sink.postgres.dsn must be set"))
	}
	if s.Enabled(SinkGCS) && s.GCS.Bucket == "" {
		errs = append(errs, errors.New("sink.gcs.bucket must be set"))
	}
	if s.Enabled(SinkPubSub) && (s.PubSub.ProjectID == "" || s.PubSub.TopicID == "") {
		errs = append(errs, errors.New("sink.pubsub.project_id and sink.pubsub.topic_id must be set"))
	}
	return errs
}
