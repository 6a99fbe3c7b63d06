package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// Server configuration
	Port        string `env:"PORT" envDefault:"8080"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173, http://localhost:3000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage
	Store        string `env:"STORE" envDefault:"mongo"` // mongo or memory
	MongoURI     string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	DatabaseName string `env:"MONGO_DB_NAME" envDefault:"storefront_agent"`
	SeedFile     string `env:"SEED_FILE"` // tenants, operators and items loaded at start-up

	// Webhook configuration
	VerifyToken     string `env:"WEBHOOK_VERIFY_TOKEN" envDefault:"webhook_verify_token"`
	DefaultTenantID string `env:"DEFAULT_TENANT_ID"`

	// Completion service
	CompletionProvider string        `env:"COMPLETION_PROVIDER" envDefault:"openai"` // openai, claude, echo
	CompletionModel    string        `env:"COMPLETION_MODEL" envDefault:"gpt-4o-mini"`
	CompletionTimeout  time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"45s"`
	OpenAIAPIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string        `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey    string        `env:"ANTHROPIC_API_KEY"`

	// Embedding service
	EmbeddingProvider string        `env:"EMBEDDING_PROVIDER" envDefault:"openai"` // openai, voyage, hash
	EmbeddingModel    string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingTimeout  time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"30s"`
	VoyageAPIKey      string        `env:"VOYAGE_API_KEY"`
	VoyageRPM         int           `env:"VOYAGE_RPM" envDefault:"3"`

	// Retrieval thresholds are tunable, not invariants
	RecommendMinScore float32 `env:"RECOMMEND_MIN_SCORE" envDefault:"0.30"`
	RecommendTopK     int     `env:"RECOMMEND_TOP_K" envDefault:"5"`
	ExactMinScore     float32 `env:"EXACT_MIN_SCORE" envDefault:"0.70"`
	ExactTopK         int     `env:"EXACT_TOP_K" envDefault:"10"`

	// Background jobs
	SweeperSchedule    string        `env:"SWEEPER_SCHEDULE" envDefault:"@every 5m"`
	HumanIdleTimeout   time.Duration `env:"HUMAN_IDLE_TIMEOUT" envDefault:"30m"`
	SweeperBatch       int           `env:"SWEEPER_BATCH" envDefault:"100"`
	IndexerSchedule    string        `env:"INDEXER_SCHEDULE" envDefault:"@every 1m"`
	IndexerBatchSize   int           `env:"INDEXER_BATCH_SIZE" envDefault:"50"`
	IndexerConcurrency int           `env:"INDEXER_CONCURRENCY" envDefault:"4"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Store == "mongo" && cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI not set")
	}
	if cfg.RecommendMinScore > cfg.ExactMinScore {
		slog.Warn("Recommendation threshold is stricter than exact-search threshold",
			"recommendMinScore", cfg.RecommendMinScore,
			"exactMinScore", cfg.ExactMinScore,
		)
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
