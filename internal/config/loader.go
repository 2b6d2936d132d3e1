package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envKeyMap maps recognized env var names to koanf dot paths. The keys
// are not a uniform SECTION_FIELD split (EMBED_* belongs to the
// Embeddings section, JWT_* to Auth, RAG_CACHE_* to RAGCache), so an
// explicit table is clearer than a clever-but-wrong splitter.
var envKeyMap = map[string]string{
	"VECTOR_BACKEND_URL":          "vector.backend_url",
	"VECTOR_BACKEND_API_KEY":      "vector.api_key",
	"VECTOR_COLLECTION":           "vector.collection",
	"VECTOR_DIMENSION":            "vector.dimension",
	"VECTOR_BATCH_SIZE":           "vector.batch_size",
	"VECTOR_MIN_INTERVAL_SECONDS": "vector.min_interval_seconds",

	"METADATA_PROJECT_ID":  "metadata.project_id",
	"METADATA_DATABASE_ID": "metadata.database_id",
	"METADATA_COLLECTION":  "metadata.collection",

	"EMBED_PROVIDER_KEY": "embeddings.provider_key",
	"EMBED_BASE_URL":     "embeddings.base_url",
	"EMBED_MODEL":        "embeddings.model",

	"AUTOTAG_CACHE_TTL_HOURS": "autotag.cache_ttl_hours",
	"AUTOTAG_PROMPT_BYTES":    "autotag.prompt_bytes",

	"JWT_SECRET":      "auth.secret",
	"JWT_ALG":         "auth.alg",
	"JWT_TTL_MINUTES": "auth.ttl_minutes",

	"RAG_CACHE_ENABLED":     "ragcache.enabled",
	"RAG_CACHE_TTL_SECONDS": "ragcache.ttl_seconds",
	"RAG_CACHE_MAX":         "ragcache.max",

	"OBJECTSTORE_BUCKET": "objectstore.bucket",
	"OBJECTSTORE_REGION": "objectstore.region",

	"SERVER_HOST":             "server.host",
	"SERVER_PORT":             "server.port",
	"SERVER_SHUTDOWN_TIMEOUT": "server.shutdown_timeout",

	"OBSERVABILITY_SERVICE_NAME":     "observability.service_name",
	"OBSERVABILITY_ENABLE_TELEMETRY": "observability.enable_telemetry",
}

// Load loads configuration from environment variables, applies
// ragdocd's defaults, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider("", ".", func(s string) string {
		if path, ok := envKeyMap[s]; ok {
			return path
		}
		// Unknown env vars are dropped rather than guessed into a
		// wrong section.
		return ""
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
