package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv returns DefaultConfig overlaid with MEMCORE_* environment
// variables. Unset variables leave the default untouched.
func FromEnv() (Config, error) {
	c := DefaultConfig()

	applyStringEnv("MEMCORE_STORE", &c.StoreType)
	applyStringEnv("MEMCORE_DB_URL", &c.DBURL)
	applyStringEnv("MEMCORE_REDIS_URL", &c.RedisURL)
	applyStringEnv("MEMCORE_SQLITE_PATH", &c.SQLitePath)

	var err error
	if err = applyBoolEnv("MEMCORE_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return c, err
	}
	if err = applyIntEnv("MEMCORE_DB_MAX_OPEN_CONNS", &c.DBMaxOpenConns); err != nil {
		return c, err
	}
	if err = applyIntEnv("MEMCORE_DB_MAX_IDLE_CONNS", &c.DBMaxIdleConns); err != nil {
		return c, err
	}

	for _, cc := range []struct {
		prefix string
		dest   *CacheConfig
	}{
		{"MEMCORE_CACHE_THREADS", &c.ThreadCache},
		{"MEMCORE_CACHE_MESSAGES", &c.MessageCache},
		{"MEMCORE_CACHE_STATE", &c.StateCache},
		{"MEMCORE_CACHE_ENTITIES", &c.EntityCache},
	} {
		if err = applyBoolEnv(cc.prefix+"_ENABLED", &cc.dest.Enabled); err != nil {
			return c, err
		}
		if err = applyIntEnv(cc.prefix+"_MAX_SIZE", &cc.dest.MaxSize); err != nil {
			return c, err
		}
		if err = applyDurationEnv(cc.prefix+"_TTL", &cc.dest.TTL); err != nil {
			return c, err
		}
		if err = applyBoolEnv(cc.prefix+"_METRICS", &cc.dest.CollectMetrics); err != nil {
			return c, err
		}
	}

	applyStringEnv("MEMCORE_EMBED", &c.EmbedType)
	applyStringEnv("MEMCORE_OPENAI_API_KEY", &c.OpenAIAPIKey)
	applyStringEnv("MEMCORE_OPENAI_MODEL_NAME", &c.OpenAIModelName)
	applyStringEnv("MEMCORE_OPENAI_BASE_URL", &c.OpenAIBaseURL)
	if err = applyIntEnv("MEMCORE_OPENAI_DIMENSIONS", &c.OpenAIDimensions); err != nil {
		return c, err
	}

	applyStringEnv("MEMCORE_GENERATE", &c.GenerateType)
	applyStringEnv("MEMCORE_GENERATE_MODEL", &c.GenerateModel)
	applyStringEnv("MEMCORE_ANTHROPIC_API_KEY", &c.AnthropicAPIKey)

	applyStringEnv("MEMCORE_VECTOR", &c.VectorType)
	if err = applyBoolEnv("MEMCORE_VECTOR_MIGRATE_AT_START", &c.VectorMigrateAtStart); err != nil {
		return c, err
	}
	applyStringEnv("MEMCORE_QDRANT_HOST", &c.QdrantHost)
	if err = applyIntEnv("MEMCORE_QDRANT_PORT", &c.QdrantPort); err != nil {
		return c, err
	}
	applyStringEnv("MEMCORE_QDRANT_COLLECTION_PREFIX", &c.QdrantCollectionPrefix)
	applyStringEnv("MEMCORE_QDRANT_COLLECTION_NAME", &c.QdrantCollectionName)
	applyStringEnv("MEMCORE_QDRANT_API_KEY", &c.QdrantAPIKey)
	if err = applyBoolEnv("MEMCORE_QDRANT_USE_TLS", &c.QdrantUseTLS); err != nil {
		return c, err
	}
	if err = applyDurationEnv("MEMCORE_QDRANT_STARTUP_TIMEOUT", &c.QdrantStartupTimeout); err != nil {
		return c, err
	}

	if err = applyIntEnv("MEMCORE_SEARCH_SCAN_LIMIT", &c.SearchScanLimit); err != nil {
		return c, err
	}
	if err = applyFloatEnv("MEMCORE_HYBRID_ALPHA", &c.HybridAlpha); err != nil {
		return c, err
	}
	if err = applyIntEnv("MEMCORE_DEFAULT_LIST_LIMIT", &c.DefaultListLimit); err != nil {
		return c, err
	}

	return c, nil
}

// QdrantAddress returns host:port for qdrant gRPC dialing.
func (c *Config) QdrantAddress() string {
	if c == nil {
		return "localhost:6334"
	}
	host := strings.TrimSpace(c.QdrantHost)
	if host == "" {
		host = "localhost"
	}
	port := c.QdrantPort
	if port <= 0 {
		port = 6334
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyFloatEnv(key string, dest *float64) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}
