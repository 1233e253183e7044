// Package config loads and validates the application configuration.
//
// Configuration files are YAML (or JSON5 by extension), support ${ENV}
// expansion and $include composition, and are checked against defaults and
// range validation at load time.
package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Resilience    ResilienceConfig    `yaml:"resilience"`
	WebhookLog    WebhookLogConfig    `yaml:"webhook_log"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address for the chat and webhook endpoints.
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the vector store database connection.
type DatabaseConfig struct {
	// URL is the Postgres DSN for the pgvector-backed retrieval store.
	URL string `yaml:"url"`

	// MaxConnections caps the connection pool size.
	MaxConnections int `yaml:"max_connections"`

	// ConnMaxLifetime bounds how long a pooled connection may live.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// RunMigrations applies embedded schema migrations at startup.
	RunMigrations bool `yaml:"run_migrations"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedding backend. Currently "openai".
	Provider string `yaml:"provider"`

	// APIKey authenticates with the provider.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// Dimension is the embedding vector width; must match the store schema.
	Dimension int `yaml:"dimension"`
}

// SourceConfig configures one retrieval source.
type SourceConfig struct {
	// Enabled gates the source; disabled sources are never queried.
	Enabled bool `yaml:"enabled"`

	// TopK is the maximum number of items the source contributes.
	TopK int `yaml:"top_k"`

	// MinScore filters items below this similarity threshold.
	MinScore float64 `yaml:"min_score"`
}

// RetrievalConfig configures the retrieval pipeline.
type RetrievalConfig struct {
	KnowledgeBase   SourceConfig     `yaml:"knowledge_base"`
	HistoricalCases SourceConfig     `yaml:"historical_cases"`
	Conversations   SourceConfig     `yaml:"conversations"`
	Rerank          RerankConfig     `yaml:"rerank"`
	Complexity      ComplexityConfig `yaml:"complexity"`
}

// RerankConfig configures the cross-source merge step.
type RerankConfig struct {
	// Enabled turns cross-source reranking on.
	Enabled bool `yaml:"enabled"`

	// TopK caps the merged result size. 0 means no cap.
	TopK int `yaml:"top_k"`
}

// ComplexityConfig configures request complexity scoring.
type ComplexityConfig struct {
	HistoryWeight          float64 `yaml:"history_weight"`
	ContextWeight          float64 `yaml:"context_weight"`
	SourcesWeight          float64 `yaml:"sources_weight"`
	DeepReasoningThreshold float64 `yaml:"deep_reasoning_threshold"`
}

// LLMConfig configures the model tiers.
type LLMConfig struct {
	// Tiers maps tier name ("fast", "quality") to its backend. A tier left
	// out is simply not available; requests routed to it fail loudly.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// EscalateTaskTypes lists task types that always use the quality tier.
	EscalateTaskTypes []string `yaml:"escalate_task_types"`
}

// TierConfig configures one model tier backend.
type TierConfig struct {
	// Provider is the backend vendor: "anthropic" or "openai".
	Provider string `yaml:"provider"`

	// Model is the concrete model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates with the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	// MaxToolRounds bounds the tool-call loop.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// MaxTokens limits response length per completion.
	MaxTokens int `yaml:"max_tokens"`

	// SystemPrompt replaces the default base prompt when set.
	SystemPrompt string `yaml:"system_prompt"`
}

// ResilienceConfig configures failure handling.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the webhook processing breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before a trial call.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookLogConfig configures webhook event logging and retention.
type WebhookLogConfig struct {
	// Backend selects the log store: "memory", "postgres", or "sqlite".
	Backend string `yaml:"backend"`

	// DSN is the Postgres connection string (postgres backend).
	DSN string `yaml:"dsn"`

	// Path is the database file path (sqlite backend).
	Path string `yaml:"path"`

	// RetentionDays is how long entries are kept before cleanup.
	RetentionDays int `yaml:"retention_days"`

	// CleanupSchedule is a cron expression for the retention janitor.
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Load reads, merges, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1536
	}

	applySourceDefaults(&cfg.Retrieval.KnowledgeBase)
	applySourceDefaults(&cfg.Retrieval.HistoricalCases)
	applySourceDefaults(&cfg.Retrieval.Conversations)
	if cfg.Retrieval.Rerank.TopK == 0 {
		cfg.Retrieval.Rerank.TopK = 8
	}
	if cfg.Retrieval.Complexity.HistoryWeight == 0 &&
		cfg.Retrieval.Complexity.ContextWeight == 0 &&
		cfg.Retrieval.Complexity.SourcesWeight == 0 {
		cfg.Retrieval.Complexity.HistoryWeight = 0.4
		cfg.Retrieval.Complexity.ContextWeight = 0.35
		cfg.Retrieval.Complexity.SourcesWeight = 0.25
	}
	if cfg.Retrieval.Complexity.DeepReasoningThreshold == 0 {
		cfg.Retrieval.Complexity.DeepReasoningThreshold = 0.6
	}

	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 5
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 1024
	}

	if cfg.Resilience.CircuitBreaker.FailureThreshold == 0 {
		cfg.Resilience.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.Resilience.CircuitBreaker.Cooldown == 0 {
		cfg.Resilience.CircuitBreaker.Cooldown = 60 * time.Second
	}

	if cfg.WebhookLog.Backend == "" {
		cfg.WebhookLog.Backend = "memory"
	}
	if cfg.WebhookLog.RetentionDays == 0 {
		cfg.WebhookLog.RetentionDays = 30
	}
	if cfg.WebhookLog.CleanupSchedule == "" {
		cfg.WebhookLog.CleanupSchedule = "0 3 * * *"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Metrics.Addr == "" {
		cfg.Observability.Metrics.Addr = ":9090"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "replypilot"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

func applySourceDefaults(src *SourceConfig) {
	if src.TopK == 0 {
		src.TopK = 5
	}
	if src.MinScore == 0 {
		src.MinScore = 0.7
	}
}

// Validate checks value ranges. Defaults must be applied first.
func (c *Config) Validate() error {
	for name, src := range map[string]SourceConfig{
		"knowledge_base":   c.Retrieval.KnowledgeBase,
		"historical_cases": c.Retrieval.HistoricalCases,
		"conversations":    c.Retrieval.Conversations,
	} {
		if src.TopK < 0 {
			return fmt.Errorf("retrieval.%s.top_k must not be negative", name)
		}
		if src.MinScore < 0 || src.MinScore > 1 {
			return fmt.Errorf("retrieval.%s.min_score must be in [0, 1]", name)
		}
	}
	if c.Retrieval.Rerank.TopK < 0 {
		return fmt.Errorf("retrieval.rerank.top_k must not be negative")
	}
	if t := c.Retrieval.Complexity.DeepReasoningThreshold; t < 0 || t > 1 {
		return fmt.Errorf("retrieval.complexity.deep_reasoning_threshold must be in [0, 1]")
	}
	for _, w := range []float64{
		c.Retrieval.Complexity.HistoryWeight,
		c.Retrieval.Complexity.ContextWeight,
		c.Retrieval.Complexity.SourcesWeight,
	} {
		if w < 0 {
			return fmt.Errorf("retrieval.complexity weights must not be negative")
		}
	}

	for name, tier := range c.LLM.Tiers {
		if name != "fast" && name != "quality" {
			return fmt.Errorf("llm.tiers: unknown tier %q", name)
		}
		if tier.Provider != "anthropic" && tier.Provider != "openai" {
			return fmt.Errorf("llm.tiers.%s.provider must be anthropic or openai", name)
		}
		if tier.Model == "" {
			return fmt.Errorf("llm.tiers.%s.model is required", name)
		}
	}

	if c.Resilience.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("resilience.circuit_breaker.failure_threshold must be at least 1")
	}
	if c.Resilience.CircuitBreaker.Cooldown <= 0 {
		return fmt.Errorf("resilience.circuit_breaker.cooldown must be positive")
	}

	switch c.WebhookLog.Backend {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("webhook_log.backend must be memory, postgres, or sqlite")
	}
	if c.WebhookLog.Backend == "postgres" && c.WebhookLog.DSN == "" {
		return fmt.Errorf("webhook_log.dsn is required for the postgres backend")
	}
	if c.WebhookLog.Backend == "sqlite" && c.WebhookLog.Path == "" {
		return fmt.Errorf("webhook_log.path is required for the sqlite backend")
	}
	if c.WebhookLog.RetentionDays < 1 {
		return fmt.Errorf("webhook_log.retention_days must be at least 1")
	}

	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("observability.tracing.sampling_rate must be in [0, 1]")
	}

	return nil
}
