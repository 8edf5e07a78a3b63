package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/aegis-intel/aegis-engine/pkg/logging"
)

// Config holds all configuration for the analysis engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Ops listener (health + metrics only, no product API)
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"9180"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Logging logging.Config `yaml:"logging"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis cache (optional; embedding vectors)
	Redis RedisConfig `yaml:"redis"`

	// Message broker (optional; ingest queue + completion events)
	Events EventsConfig `yaml:"events"`

	// Model endpoints for extraction and embeddings
	AI AIConfig `yaml:"ai"`

	// Pipeline behavior
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"aegis"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"aegis_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis cache configuration. An empty host disables the
// cache and embeddings are recomputed on every use.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// EmbeddingTTLHours bounds how long cached vectors are reused.
	EmbeddingTTLHours int `yaml:"embedding_ttl_hours" env:"REDIS_EMBEDDING_TTL_HOURS" env-default:"168"`
}

// EventsConfig holds RabbitMQ settings. An empty URL disables messaging:
// the worker falls back to polling and completion events become no-ops.
type EventsConfig struct {
	URL             string `yaml:"-" env:"AMQP_URL"` // Contains credentials - not in YAML
	IngestQueue     string `yaml:"ingest_queue" env:"AMQP_INGEST_QUEUE" env-default:"intel.articles.pending"`
	CompletedQueue  string `yaml:"completed_queue" env:"AMQP_COMPLETED_QUEUE" env-default:"intel.analysis.completed"`
	PrefetchCount   int    `yaml:"prefetch_count" env:"AMQP_PREFETCH_COUNT" env-default:"8"`
	ReconnectDelayS int    `yaml:"reconnect_delay_seconds" env:"AMQP_RECONNECT_DELAY_SECONDS" env-default:"5"`
}

// Enabled reports whether a broker is configured.
func (c *EventsConfig) Enabled() bool {
	return c.URL != ""
}

// ReconnectDelay returns how long the consumer waits before redialing a
// dropped broker connection.
func (c *EventsConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayS) * time.Second
}

// AIConfig holds model endpoints for entity extraction and embeddings.
// Extraction supports OpenAI-compatible and Anthropic providers; embeddings
// are always served by an OpenAI-compatible endpoint.
type AIConfig struct {
	Provider   string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"` // openai or anthropic
	LLMBaseURL string `yaml:"llm_base_url" env:"AI_LLM_BASE_URL" env-default:""`
	LLMModel   string `yaml:"llm_model" env:"AI_LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey     string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML

	EmbeddingBaseURL string `yaml:"embedding_base_url" env:"AI_EMBEDDING_BASE_URL" env-default:""`
	EmbeddingModel   string `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey  string `yaml:"-" env:"AI_EMBEDDING_API_KEY"` // Secret - falls back to APIKey

	MaxTokens             int `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"4096"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"AI_REQUEST_TIMEOUT_SECONDS" env-default:"90"`
	EmbedTimeoutSeconds   int `yaml:"embed_timeout_seconds" env:"AI_EMBED_TIMEOUT_SECONDS" env-default:"10"`
}

// EmbeddingsAvailable reports whether an embedding endpoint is configured.
// Without one, scoring runs exact-overlap only.
func (c *AIConfig) EmbeddingsAvailable() bool {
	return c.EmbeddingBaseURL != "" && c.EmbeddingModel != ""
}

// EmbeddingKey returns the API key for the embedding endpoint.
func (c *AIConfig) EmbeddingKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.APIKey
}

// RequestTimeout returns the extraction call timeout.
func (c *AIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// EmbedTimeout returns the per-call embedding timeout.
func (c *AIConfig) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

// PipelineConfig holds analysis pipeline behavior settings.
type PipelineConfig struct {
	// Workers is the number of articles analyzed concurrently.
	Workers int `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"4"`
	// PollIntervalSeconds is how often the poller claims pending articles
	// when no broker is configured.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"PIPELINE_POLL_INTERVAL_SECONDS" env-default:"15"`
	// MaxRetries bounds retries of transient extraction/embedding failures.
	MaxRetries int `yaml:"max_retries" env:"PIPELINE_MAX_RETRIES" env-default:"3"`
	// ActorMatchThreshold is the minimum fuzzy similarity for merging a
	// threat actor name into an existing canonical actor.
	ActorMatchThreshold float64 `yaml:"actor_match_threshold" env:"PIPELINE_ACTOR_MATCH_THRESHOLD" env-default:"0.85"`
	// ProcessBacklogOnStart analyzes all pending articles at startup.
	ProcessBacklogOnStart bool `yaml:"process_backlog_on_start" env:"PIPELINE_PROCESS_BACKLOG_ON_START" env-default:"true"`
	// RescoreOnStart rewrites every stored association under the active
	// similarity config before the worker loops begin. Set it once after
	// activating a new config version, then unset it.
	RescoreOnStart bool `yaml:"rescore_on_start" env:"PIPELINE_RESCORE_ON_START" env-default:"false"`
	// RebuildCampaignsAfterAnalyze refreshes campaign clusters after every
	// successful article analysis. When false, only the periodic rebuild runs.
	RebuildCampaignsAfterAnalyze bool `yaml:"rebuild_campaigns_after_analyze" env:"PIPELINE_REBUILD_CAMPAIGNS_AFTER_ANALYZE" env-default:"true"`
	// CampaignRebuildIntervalMinutes is the periodic cluster refresh cadence.
	// Zero disables the periodic rebuild.
	CampaignRebuildIntervalMinutes int `yaml:"campaign_rebuild_interval_minutes" env:"PIPELINE_CAMPAIGN_REBUILD_INTERVAL_MINUTES" env-default:"60"`
}

// PollInterval returns the poller cadence.
func (c *PipelineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CampaignRebuildInterval returns the periodic rebuild cadence.
func (c *PipelineConfig) CampaignRebuildInterval() time.Duration {
	return time.Duration(c.CampaignRebuildIntervalMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, AI_API_KEY, AMQP_URL) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.ActorMatchThreshold <= 0 || c.Pipeline.ActorMatchThreshold > 1 {
		return fmt.Errorf("pipeline.actor_match_threshold must be in (0, 1], got %v", c.Pipeline.ActorMatchThreshold)
	}
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("ai.provider must be openai or anthropic, got %q", c.AI.Provider)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
