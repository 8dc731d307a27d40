package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Equal(t, BackendMemory, cfg.Runs.Backend)
	require.Equal(t, "@every 1m", cfg.Posting.CronSpec)
	require.Equal(t, 24, cfg.Posting.CooldownHours)
	require.InDelta(t, 1.0, cfg.Reddit.RPS, 0.0001)
	require.Equal(t, 5, cfg.Reddit.Burst)
	require.Equal(t, 5, cfg.RunLimits().MaxKeywords)
	require.Equal(t, 70, cfg.RunLimits().ScoreThreshold)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	base, maxDelay := cfg.RetryBackoff()
	require.Equal(t, 250*time.Millisecond, base)
	require.Equal(t, 5*time.Second, maxDelay)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
store:
  backend: postgres
db:
  dsn: postgres://leadgen@localhost/leadgen
  max_conns: 20
blob:
  backend: gcs
  bucket: snapshots
runs:
  workers: 6
workflow:
  max_threads: 50
  score_threshold: 80
posting:
  cron_spec: "*/5 * * * *"
  default_daily_cap: 3
llm:
  provider: gemini
  model: gemini-2.0-flash
search:
  provider: google
  google_engine_id: cx-123
scraper:
  provider: firecrawl
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, BackendPostgres, cfg.Store.Backend)
	require.Equal(t, int32(20), cfg.DB.MaxConns)
	require.Equal(t, "snapshots", cfg.Blob.Bucket)
	require.Equal(t, 6, cfg.Runs.Workers)
	require.Equal(t, 50, cfg.RunLimits().MaxThreads)
	require.Equal(t, 80, cfg.RunLimits().ScoreThreshold)
	require.Equal(t, 3, cfg.Posting.DefaultDailyCap)
	require.Equal(t, ProviderGemini, cfg.LLM.Provider)
	require.Equal(t, "cx-123", cfg.Search.GoogleEngineID)
	require.Equal(t, ProviderFirecrawl, cfg.Scraper.Provider)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEADGEN_SERVER_PORT", "7070")
	t.Setenv("LEADGEN_REDDIT_CLIENT_ID", "client-1")
	t.Setenv("LEADGEN_LLM_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "client-1", cfg.Reddit.ClientID)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEADGEN_REDDIT_CLIENT_SECRET=from-dotenv\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("LEADGEN_REDDIT_CLIENT_SECRET") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.Reddit.ClientSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Tracing:  TracingConfig{SampleRatio: 1},
		Store:    StoreConfig{Backend: BackendMemory},
		Blob:     BlobConfig{Backend: BackendMemory},
		Runs:     RunsConfig{Backend: BackendMemory, QueueDepth: 8, Workers: 1},
		Workflow: WorkflowConfig{ScoreThreshold: 70, ScoreConcurrency: 4},
		Posting:  PostingConfig{Enabled: true, CronSpec: "@every 1m"},
		HTTP:     HTTPConfig{TimeoutSeconds: 10, MaxRetries: 3},
		Reddit:   RedditConfig{UserAgent: "ua"},
		LLM:      LLMConfig{Provider: ProviderOpenAI},
		Search:   SearchConfig{Provider: ProviderReddit},
		Scraper:  ScraperConfig{Provider: ProviderColly},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "tracing.sample_ratio"},
		{"unknown store", func(c *Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "db.dsn"},
		{"gcs without bucket", func(c *Config) { c.Blob.Backend = BackendGCS }, "blob.bucket"},
		{"local without dir", func(c *Config) { c.Blob.Backend = BackendLocal }, "blob.base_dir"},
		{"pubsub runs without project", func(c *Config) { c.Runs.Backend = BackendPubSub }, "pubsub.project_id"},
		{"no workers", func(c *Config) { c.Runs.Workers = 0 }, "runs.workers"},
		{"threshold", func(c *Config) { c.Workflow.ScoreThreshold = 101 }, "workflow.score_threshold"},
		{"cron spec", func(c *Config) { c.Posting.CronSpec = "every minute" }, "posting.cron_spec"},
		{"retries", func(c *Config) { c.HTTP.MaxRetries = 0 }, "http.max_retries"},
		{"llm provider", func(c *Config) { c.LLM.Provider = "claude" }, "llm.provider"},
		{"google without cx", func(c *Config) { c.Search.Provider = ProviderGoogle }, "search.google_engine_id"},
		{"scraper provider", func(c *Config) { c.Scraper.Provider = "rod" }, "scraper.provider"},
		{"headless parallel", func(c *Config) {
			c.Scraper.HeadlessEnabled = true
			c.Scraper.HeadlessMaxParallel = 0
		}, "scraper.headless_max_parallel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
