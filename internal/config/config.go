// Package config loads and validates ingestor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-news-ingestor/internal/scheduler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Application ApplicationConfig `mapstructure:"application"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Queue       QueueConfig       `mapstructure:"queue"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Schedule    []scheduler.Entry `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ApplicationConfig identifies the deployment for tracing.
type ApplicationConfig struct {
	Name          string  `mapstructure:"name"`
	Version       string  `mapstructure:"version"`
	ProjectID     string  `mapstructure:"project_id"`
	ProjectNumber string  `mapstructure:"project_number"`
	Region        string  `mapstructure:"region"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// FetcherConfig configures the search provider client.
type FetcherConfig struct {
	Provider          string        `mapstructure:"provider"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// DedupConfig configures the shared dedup cache. An empty URL disables it.
type DedupConfig struct {
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	FailOpen bool          `mapstructure:"fail_open"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StorageConfig selects the object storage backend and its targets.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	RawBucket        string `mapstructure:"raw_bucket"`
	NormalizedBucket string `mapstructure:"normalized_bucket"`
	Prefix           string `mapstructure:"prefix"`
	LocalDir         string `mapstructure:"local_dir"`
}

// QueueConfig selects the job transport and consumer sizing.
type QueueConfig struct {
	Backend     string `mapstructure:"backend"`
	Capacity    int    `mapstructure:"capacity"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	Consumers   int    `mapstructure:"consumers"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// PubSubConfig names the topics and subscription used for jobs and results.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	JobsTopic    string `mapstructure:"jobs_topic"`
	Subscription string `mapstructure:"subscription"`
	ResultsTopic string `mapstructure:"results_topic"`
}

// DatabaseConfig controls access to the run ledger.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QuotaConfig bounds provider requests per UTC day.
type QuotaConfig struct {
	DailyLimit int `mapstructure:"daily_limit"`
}

// Storage and queue backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("application.name", "news-ingestor")
	v.SetDefault("application.version", "dev")
	v.SetDefault("application.project_id", "")
	v.SetDefault("application.project_number", "")
	v.SetDefault("application.region", "")
	v.SetDefault("application.sample_ratio", 1.0)
	v.SetDefault("fetcher.provider", "newsapi")
	v.SetDefault("fetcher.base_url", "https://newsapi.org/v2")
	v.SetDefault("fetcher.api_key", "")
	v.SetDefault("fetcher.timeout", 10*time.Second)
	v.SetDefault("fetcher.requests_per_second", 1.0)
	v.SetDefault("fetcher.user_agent", "news-ingestor/0.1")
	v.SetDefault("dedup.url", "")
	v.SetDefault("dedup.token", "")
	v.SetDefault("dedup.timeout", 5*time.Second)
	v.SetDefault("dedup.fail_open", true)
	v.SetDefault("dedup.ttl", 14*24*time.Hour)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.raw_bucket", "news-raw")
	v.SetDefault("storage.normalized_bucket", "news-normalized")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.capacity", 256)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.consumers", 2)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.jobs_topic", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.results_topic", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "ingestion_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("quota.daily_limit", 100)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Fetcher.BaseURL) == "" {
		return fmt.Errorf("fetcher.base_url is required")
	}
	if c.Fetcher.Provider != "newsapi" {
		return fmt.Errorf("fetcher.provider %q is not supported", c.Fetcher.Provider)
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Dedup.URL != "" && c.Dedup.Token == "" {
		return fmt.Errorf("dedup.token must be set when dedup.url is configured")
	}
	if c.Dedup.TTL < time.Second {
		return fmt.Errorf("dedup.ttl must be at least 1s")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.RawBucket == "" || c.Storage.NormalizedBucket == "" {
			return fmt.Errorf("storage.raw_bucket and storage.normalized_bucket are required for gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case BackendMemory:
		if c.Queue.Capacity <= 0 {
			return fmt.Errorf("queue.capacity must be > 0")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.JobsTopic == "" || c.PubSub.Subscription == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.jobs_topic and pubsub.subscription are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Queue.Consumers <= 0 || c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.consumers and queue.batch_size must be > 0")
	}
	if c.PubSub.ResultsTopic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.results_topic is configured")
	}
	if c.Application.SampleRatio < 0 || c.Application.SampleRatio > 1 {
		return fmt.Errorf("application.sample_ratio must be within [0,1]")
	}
	return nil
}
