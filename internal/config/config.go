// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// EnvPrefix prefixes every environment override, e.g. LEADGEN_SERVER_PORT.
const EnvPrefix = "LEADGEN"

// Backend names accepted by the *.backend and *.provider keys.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendLocal      = "local"
	BackendGCS        = "gcs"
	BackendPubSub     = "pubsub"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderGoogle    = "google"
	ProviderReddit    = "reddit"
	ProviderColly     = "colly"
	ProviderFirecrawl = "firecrawl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Blob      BlobConfig      `mapstructure:"blob"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Runs      RunsConfig      `mapstructure:"runs"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Posting   PostingConfig   `mapstructure:"posting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Reddit    RedditConfig    `mapstructure:"reddit"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	MigrateOnStart         bool   `mapstructure:"migrate_on_start"`
}

// BlobConfig selects where website snapshots are written.
type BlobConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds Pub/Sub settings for events and the shared run queue.
type PubSubConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	RunTopic        string `mapstructure:"run_topic"`
	RunSubscription string `mapstructure:"run_subscription"`
}

// RunsConfig controls the workflow run queue and worker pool.
type RunsConfig struct {
	Backend           string `mapstructure:"backend"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	Workers           int    `mapstructure:"workers"`
	RunTimeoutMinutes int    `mapstructure:"run_timeout_minutes"`
}

// WorkflowConfig holds default run limits.
type WorkflowConfig struct {
	MaxKeywords          int `mapstructure:"max_keywords"`
	MaxResultsPerKeyword int `mapstructure:"max_results_per_keyword"`
	MaxThreads           int `mapstructure:"max_threads"`
	ScoreThreshold       int `mapstructure:"score_threshold"`
	ScoreConcurrency     int `mapstructure:"score_concurrency"`
	CommentLimit         int `mapstructure:"comment_limit"`
}

// PostingConfig tunes the posting queue processor.
type PostingConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	CronSpec            string `mapstructure:"cron_spec"`
	DefaultDailyCap     int    `mapstructure:"default_daily_cap"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	BatchSize           int    `mapstructure:"batch_size"`
	RetryBackoffMinutes int    `mapstructure:"retry_backoff_minutes"`
	CooldownHours       int    `mapstructure:"cooldown_hours"`
	TickTimeoutSeconds  int    `mapstructure:"tick_timeout_seconds"`
}

// HTTPConfig configures retry behavior for outbound calls.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RateLimitConfig is the per-host outbound token bucket.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// RedditConfig holds the Reddit application credentials.
type RedditConfig struct {
	ClientID     string  `mapstructure:"client_id"`
	ClientSecret string  `mapstructure:"client_secret"`
	Username     string  `mapstructure:"username"`
	Password     string  `mapstructure:"password"`
	UserAgent    string  `mapstructure:"user_agent"`
	BaseURL      string  `mapstructure:"base_url"`
	TokenURL     string  `mapstructure:"token_url"`
	// RPS and Burst throttle calls to the Reddit API host.
	RPS          float64 `mapstructure:"rps"`
	Burst        int     `mapstructure:"burst"`
}

// LLMConfig selects and configures the language model.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// SearchConfig selects the thread discovery provider.
type SearchConfig struct {
	Provider       string `mapstructure:"provider"`
	GoogleAPIKey   string `mapstructure:"google_api_key"`
	GoogleEngineID string `mapstructure:"google_engine_id"`
	GoogleEndpoint string `mapstructure:"google_endpoint"`
}

// ScraperConfig selects and tunes website scraping.
type ScraperConfig struct {
	Provider            string `mapstructure:"provider"`
	UserAgent           string `mapstructure:"user_agent"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	MinTextLength       int    `mapstructure:"min_text_length"`
	MaxContent          int    `mapstructure:"max_content"`
	HeadlessEnabled     bool   `mapstructure:"headless_enabled"`
	HeadlessMaxParallel int    `mapstructure:"headless_max_parallel"`
	NavTimeoutSeconds   int    `mapstructure:"nav_timeout_seconds"`
	FirecrawlAPIKey     string `mapstructure:"firecrawl_api_key"`
	FirecrawlBaseURL    string `mapstructure:"firecrawl_base_url"`
}

// Load builds a Config from an optional .env file, disk and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// setDefaults registers every key so AutomaticEnv can override it, secrets included.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "reddit-leadgen")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate_on_start", false)

	v.SetDefault("blob.backend", BackendMemory)
	v.SetDefault("blob.base_dir", "data/snapshots")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.prefix", "snapshots")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_prefix", "leadgen")
	v.SetDefault("pubsub.run_topic", "leadgen-runs")
	v.SetDefault("pubsub.run_subscription", "leadgen-runs-workers")

	v.SetDefault("runs.backend", BackendMemory)
	v.SetDefault("runs.queue_depth", 64)
	v.SetDefault("runs.workers", 2)
	v.SetDefault("runs.run_timeout_minutes", 30)

	v.SetDefault("workflow.max_keywords", 5)
	v.SetDefault("workflow.max_results_per_keyword", 10)
	v.SetDefault("workflow.max_threads", 30)
	v.SetDefault("workflow.score_threshold", 70)
	v.SetDefault("workflow.score_concurrency", 4)
	v.SetDefault("workflow.comment_limit", 10)

	v.SetDefault("posting.enabled", true)
	v.SetDefault("posting.cron_spec", "@every 1m")
	v.SetDefault("posting.default_daily_cap", 10)
	v.SetDefault("posting.max_attempts", 3)
	v.SetDefault("posting.batch_size", 50)
	v.SetDefault("posting.retry_backoff_minutes", 5)
	v.SetDefault("posting.cooldown_hours", 24)
	v.SetDefault("posting.tick_timeout_seconds", 50)

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)

	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 5)

	v.SetDefault("reddit.client_id", "")
	v.SetDefault("reddit.client_secret", "")
	v.SetDefault("reddit.username", "")
	v.SetDefault("reddit.password", "")
	v.SetDefault("reddit.user_agent", "server:reddit-leadgen:v0.1")
	v.SetDefault("reddit.base_url", "")
	v.SetDefault("reddit.token_url", "")
	v.SetDefault("reddit.rps", 1.0)
	v.SetDefault("reddit.burst", 5)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 1200)

	v.SetDefault("search.provider", ProviderReddit)
	v.SetDefault("search.google_api_key", "")
	v.SetDefault("search.google_engine_id", "")
	v.SetDefault("search.google_endpoint", "")

	v.SetDefault("scraper.provider", ProviderColly)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; reddit-leadgen/0.1)")
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.timeout_seconds", 20)
	v.SetDefault("scraper.min_text_length", 500)
	v.SetDefault("scraper.max_content", 12000)
	v.SetDefault("scraper.headless_enabled", false)
	v.SetDefault("scraper.headless_max_parallel", 1)
	v.SetDefault("scraper.nav_timeout_seconds", 45)
	v.SetDefault("scraper.firecrawl_api_key", "")
	v.SetDefault("scraper.firecrawl_base_url", "")
}

// Validate enforces required values and reasonable limits. Credentials are
// checked by the client constructors so commands that never call out (migrate,
// schedule) load without them.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within 0-1")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres store")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", c.Store.Backend)
	}
	switch c.Blob.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir must be set for the local blob store")
		}
	case BackendGCS:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set for the gcs blob store")
		}
	default:
		return fmt.Errorf("blob.backend must be memory, local or gcs, got %q", c.Blob.Backend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	switch c.Runs.Backend {
	case BackendMemory:
		if c.Runs.QueueDepth <= 0 {
			return fmt.Errorf("runs.queue_depth must be > 0")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.RunTopic == "" || c.PubSub.RunSubscription == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.run_topic and pubsub.run_subscription are required for the pubsub run queue")
		}
	default:
		return fmt.Errorf("runs.backend must be memory or pubsub, got %q", c.Runs.Backend)
	}
	if c.Runs.Workers <= 0 {
		return fmt.Errorf("runs.workers must be > 0")
	}
	if c.Workflow.ScoreThreshold < 0 || c.Workflow.ScoreThreshold > 100 {
		return fmt.Errorf("workflow.score_threshold must be within 0-100")
	}
	if c.Workflow.ScoreConcurrency <= 0 {
		return fmt.Errorf("workflow.score_concurrency must be > 0")
	}
	if c.Posting.Enabled {
		if _, err := cron.ParseStandard(c.Posting.CronSpec); err != nil {
			return fmt.Errorf("posting.cron_spec is invalid: %w", err)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Reddit.UserAgent == "" {
		return fmt.Errorf("reddit.user_agent must be set")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	switch c.Search.Provider {
	case ProviderReddit:
	case ProviderGoogle:
		if c.Search.GoogleEngineID == "" {
			return fmt.Errorf("search.google_engine_id must be set for google search")
		}
	default:
		return fmt.Errorf("search.provider must be google or reddit, got %q", c.Search.Provider)
	}
	switch c.Scraper.Provider {
	case ProviderColly:
		if c.Scraper.HeadlessEnabled && c.Scraper.HeadlessMaxParallel <= 0 {
			return fmt.Errorf("scraper.headless_max_parallel must be > 0 when headless is enabled")
		}
	case ProviderFirecrawl:
	default:
		return fmt.Errorf("scraper.provider must be colly or firecrawl, got %q", c.Scraper.Provider)
	}
	return nil
}

// RunLimits converts the workflow section into default run limits.
func (c Config) RunLimits() leadgen.RunLimits {
	return leadgen.RunLimits{
		MaxKeywords:          c.Workflow.MaxKeywords,
		MaxResultsPerKeyword: c.Workflow.MaxResultsPerKeyword,
		MaxThreads:           c.Workflow.MaxThreads,
		ScoreThreshold:       c.Workflow.ScoreThreshold,
		ScoreConcurrency:     c.Workflow.ScoreConcurrency,
	}
}

// HTTPTimeout is the per-request timeout for outbound clients.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial and maximum retry delays.
func (c Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
