package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// CacheConfig holds the settings of one facade cache instance.
type CacheConfig struct {
	Enabled        bool
	MaxSize        int
	TTL            time.Duration
	CollectMetrics bool
}

// Config holds all configuration for the memory core. The store backend is
// read once at construction; there is no per-call override.
type Config struct {
	// StoreType selects the backend adapter: "postgres", "redis" or "sqlite".
	StoreType string

	// Postgres
	DBURL          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis
	RedisURL string

	// SQLite / libsql replica file
	SQLitePath string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Caches. Single-process, best-effort; no distributed invalidation.
	ThreadCache  CacheConfig
	MessageCache CacheConfig
	StateCache   CacheConfig
	EntityCache  CacheConfig

	// Embedding: "fallback" (local, then openai), "local", "openai" or "none".
	EmbedType string

	// OpenAI (embeddings and the openai generator)
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Generator: "openai", "anthropic" or "" (summaries disabled).
	GenerateType    string
	GenerateModel   string
	AnthropicAPIKey string

	// Vector index: "qdrant" or "" (brute-force scan).
	VectorType           string
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost             string
	QdrantPort             int
	QdrantCollectionPrefix string
	QdrantCollectionName   string
	QdrantAPIKey           string
	QdrantUseTLS           bool
	QdrantStartupTimeout   time.Duration

	// SearchScanLimit bounds the brute-force semantic scan. Queries that hit
	// the cap log a warning; callers needing more should configure a vector
	// index instead.
	SearchScanLimit int

	// HybridAlpha weights the vector leg of hybrid search against the
	// keyword leg (1 = pure vector, 0 = pure keyword).
	HybridAlpha float64

	// DefaultListLimit applies when a list call passes no limit.
	DefaultListLimit int
}

func defaultCache() CacheConfig {
	return CacheConfig{
		Enabled:        true,
		MaxSize:        100,
		TTL:            10 * time.Minute,
		CollectMetrics: true,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreType:               "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		SQLitePath:              "memcore.db",
		ThreadCache:             defaultCache(),
		MessageCache:            defaultCache(),
		StateCache:              defaultCache(),
		EntityCache:             defaultCache(),
		EmbedType:               "fallback",
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		GenerateType:            "openai",
		GenerateModel:           "gpt-4o-mini",
		VectorType:              "",
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollectionPrefix:  "memcore",
		QdrantStartupTimeout:    30 * time.Second,
		SearchScanLimit:         10_000,
		HybridAlpha:             0.5,
		DefaultListLimit:        10,
	}
}
