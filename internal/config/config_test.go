package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
fetcher:
  api_key: news-key
  timeout: 3s
  requests_per_second: 0.5
dedup:
  url: https://cache.example.com
  token: cache-token
  fail_open: false
  ttl: 48h
storage:
  backend: gcs
  raw_bucket: raw
  normalized_bucket: lake
queue:
  backend: pubsub
  consumers: 4
pubsub:
  project_id: proj
  jobs_topic: jobs
  subscription: jobs-sub
  results_topic: results
database:
  dsn: postgres://localhost/ingest
  auto_migrate: true
quota:
  daily_limit: 500
schedule:
  - spec: "0 * * * *"
    query: bitcoin
    limit: 25
  - spec: "@daily"
    query: climate
    language: de
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, 3*time.Second, cfg.Fetcher.Timeout)
	require.InDelta(t, 0.5, cfg.Fetcher.RequestsPerSecond, 1e-9)
	require.False(t, cfg.Dedup.FailOpen)
	require.Equal(t, 48*time.Hour, cfg.Dedup.TTL)
	require.Equal(t, BackendGCS, cfg.Storage.Backend)
	require.Equal(t, BackendPubSub, cfg.Queue.Backend)
	require.Equal(t, 4, cfg.Queue.Consumers)
	require.Equal(t, "results", cfg.PubSub.ResultsTopic)
	require.True(t, cfg.Database.AutoMigrate)
	require.Equal(t, "ingestion_runs", cfg.Database.Table)
	require.Equal(t, 500, cfg.Quota.DailyLimit)
	require.Len(t, cfg.Schedule, 2)
	require.Equal(t, "bitcoin", cfg.Schedule[0].Query)
	require.Equal(t, 25, cfg.Schedule[0].Limit)
	require.Equal(t, "de", cfg.Schedule[1].Language)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "https://newsapi.org/v2", cfg.Fetcher.BaseURL)
	require.True(t, cfg.Dedup.FailOpen)
	require.Equal(t, 14*24*time.Hour, cfg.Dedup.TTL)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.Equal(t, BackendMemory, cfg.Queue.Backend)
	require.Equal(t, 100, cfg.Quota.DailyLimit)
	require.Empty(t, cfg.Schedule)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INGEST_SERVER_PORT", "7070")
	t.Setenv("INGEST_FETCHER_API_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "from-env", cfg.Fetcher.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Server.Port = 0 },
		"auth key":       func(c *Config) { c.Auth.Enabled = true },
		"provider":       func(c *Config) { c.Fetcher.Provider = "gnews" },
		"base url":       func(c *Config) { c.Fetcher.BaseURL = " " },
		"dedup token":    func(c *Config) { c.Dedup.URL = "https://cache" },
		"ttl":            func(c *Config) { c.Dedup.TTL = 0 },
		"sub-second ttl": func(c *Config) { c.Dedup.TTL = 500 * time.Millisecond },
		"storage":        func(c *Config) { c.Storage.Backend = "s3" },
		"gcs buckets":    func(c *Config) { c.Storage.Backend = BackendGCS; c.Storage.RawBucket = "" },
		"pubsub queue":   func(c *Config) { c.Queue.Backend = BackendPubSub },
		"queue backend":  func(c *Config) { c.Queue.Backend = "sqs" },
		"max attempts":   func(c *Config) { c.Queue.MaxAttempts = 0 },
		"batch size":     func(c *Config) { c.Queue.BatchSize = 0 },
		"results topic":  func(c *Config) { c.PubSub.ResultsTopic = "results" },
		"sample ratio":   func(c *Config) { c.Application.SampleRatio = 2 },
		"local dir":      func(c *Config) { c.Storage.LocalDir = "" },
		"fetch timeout":  func(c *Config) { c.Fetcher.Timeout = 0 },
		"queue capacity": func(c *Config) { c.Queue.Capacity = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
