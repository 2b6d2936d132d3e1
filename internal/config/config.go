// Package config provides configuration loading for ragdocd.
//
// Configuration is loaded entirely from environment variables via
// github.com/knadh/koanf. There is no YAML file layer: ragdocd is
// deployed as containers where env vars are the only configuration
// surface, so a single env.Provider load is all that's needed.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete ragdocd configuration.
type Config struct {
	Server        ServerConfig
	Vector        VectorConfig
	Metadata      MetadataConfig
	Embeddings    EmbeddingsConfig
	AutoTag       AutoTagConfig
	Auth          AuthConfig
	RAGCache      RAGCacheConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// VectorConfig configures the vector store backend (VECTOR_* keys).
type VectorConfig struct {
	BackendURL         string  `koanf:"backend_url"`
	APIKey             Secret  `koanf:"api_key"`
	Collection         string  `koanf:"collection"`
	Dimension          int     `koanf:"dimension"`
	BatchSize          int     `koanf:"batch_size"`
	MinIntervalSeconds float64 `koanf:"min_interval_seconds"`
}

// MetadataConfig configures the Firestore-backed metadata store
// (METADATA_* keys).
type MetadataConfig struct {
	ProjectID  string `koanf:"project_id"`
	DatabaseID string `koanf:"database_id"`
	Collection string `koanf:"collection"`
}

// EmbeddingsConfig configures the embedding client (EMBED_* keys).
type EmbeddingsConfig struct {
	ProviderKey Secret `koanf:"provider_key"`
	BaseURL     string `koanf:"base_url"`
	Model       string `koanf:"model"`
}

// AutoTagConfig configures the auto-tag enricher (AUTOTAG_* keys).
// The TTL env key carries a bare hour count, so the field is numeric
// rather than a Duration.
type AutoTagConfig struct {
	CacheTTLHours int `koanf:"cache_ttl_hours"`
	PromptBytes   int `koanf:"prompt_bytes"`
}

// CacheTTL returns the cache TTL as a time.Duration.
func (c AutoTagConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// AuthConfig configures JWT issuance (JWT_* keys).
type AuthConfig struct {
	Secret     Secret `koanf:"secret"`
	Alg        string `koanf:"alg"`
	TTLMinutes int    `koanf:"ttl_minutes"`
}

// TTL returns the token lifetime as a time.Duration.
func (c AuthConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// RAGCacheConfig configures the gateway's RAG response cache
// (RAG_CACHE_* keys). Enabled is a pointer so that the absence of
// RAG_CACHE_ENABLED can default to true rather than the zero value.
type RAGCacheConfig struct {
	Enabled    *bool `koanf:"enabled"`
	TTLSeconds int   `koanf:"ttl_seconds"`
	Max        int   `koanf:"max"`
}

// TTL returns the cache TTL as a time.Duration.
func (c RAGCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ObjectStoreConfig configures the snapshot sidecar's S3 blob store.
type ObjectStoreConfig struct {
	Bucket string `koanf:"bucket"`
	Region string `koanf:"region"`
}

// ObservabilityConfig configures logging/tracing.
type ObservabilityConfig struct {
	ServiceName     string `koanf:"service_name"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
}

// Validate checks required fields and internal consistency. An empty
// VECTOR_BACKEND_URL or METADATA_PROJECT_ID is allowed: the entry point
// falls back to the embedded chromem-go / in-memory backends for those
// cases (dev mode).
func (c *Config) Validate() error {
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("VECTOR_DIMENSION must be positive")
	}
	if c.Auth.Secret.IsSet() && len(c.Auth.Secret.Value()) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if c.Auth.Alg != "" && c.Auth.Alg != "HS256" {
		return fmt.Errorf("JWT_ALG must be HS256 (the only algorithm pkg/auth's issuer supports)")
	}
	return nil
}

// applyDefaults fills unset fields with ragdocd's defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "agent_data_vectors"
	}
	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = 1536
	}
	if cfg.Vector.BatchSize == 0 {
		cfg.Vector.BatchSize = 100
	}
	if cfg.Vector.MinIntervalSeconds == 0 {
		cfg.Vector.MinIntervalSeconds = 0.35
	}

	if cfg.Metadata.DatabaseID == "" {
		cfg.Metadata.DatabaseID = "(default)"
	}
	if cfg.Metadata.Collection == "" {
		cfg.Metadata.Collection = "document_metadata"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-ada-002"
	}

	if cfg.AutoTag.CacheTTLHours == 0 {
		cfg.AutoTag.CacheTTLHours = 24
	}
	if cfg.AutoTag.PromptBytes == 0 {
		cfg.AutoTag.PromptBytes = 2048
	}

	if cfg.Auth.Alg == "" {
		cfg.Auth.Alg = "HS256"
	}
	if cfg.Auth.TTLMinutes == 0 {
		cfg.Auth.TTLMinutes = 30
	}

	if cfg.RAGCache.Enabled == nil {
		enabled := true
		cfg.RAGCache.Enabled = &enabled
	}
	if cfg.RAGCache.TTLSeconds == 0 {
		cfg.RAGCache.TTLSeconds = 3600
	}
	if cfg.RAGCache.Max == 0 {
		cfg.RAGCache.Max = 1000
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "ragdocd"
	}
}
