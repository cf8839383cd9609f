// Package config provides configuration loading for searchd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the searchd daemon.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Lexicon       LexiconConfig       `koanf:"lexicon"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	Rewrite       RewriteConfig       `koanf:"rewrite"`
	Search        SearchConfig        `koanf:"search"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
	Cache         CacheConfig         `koanf:"cache"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LexiconConfig locates the gazetteer term files.
type LexiconConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// ExtractionConfig tunes the entity extractor and coverage gate.
type ExtractionConfig struct {
	HighCoverageThreshold float64            `koanf:"high_coverage_threshold"`
	LowCoverageThreshold  float64            `koanf:"low_coverage_threshold"`
	ConfidenceThresholds  map[string]float64 `koanf:"confidence_thresholds"`
	Fallback              FallbackConfig     `koanf:"fallback"`
}

// FallbackConfig configures the external LLM fallback extractor.
type FallbackConfig struct {
	Enabled   bool     `koanf:"enabled"`
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
}

// RewriteConfig configures the query rewriter.
type RewriteConfig struct {
	Enabled     bool     `koanf:"enabled"`
	MaxRewrites int      `koanf:"max_rewrites"`
	Budget      Duration `koanf:"budget"`
}

// SearchConfig holds pipeline-wide budgets and limits.
type SearchConfig struct {
	PerQueryTimeout   Duration `koanf:"per_query_timeout"`
	TotalTimeout      Duration `koanf:"total_timeout"`
	BatchInterval     Duration `koanf:"batch_interval"`
	MaxResolverFanout int      `koanf:"max_resolver_fanout"`
	DefaultLimit      int      `koanf:"default_limit"`
}

// RateLimitConfig configures per-tenant admission control.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	MaxConcurrent     int64   `koanf:"max_concurrent"`
}

// CacheConfig configures the request cache.
type CacheConfig struct {
	TTL        Duration `koanf:"ttl"`
	MaxEntries int      `koanf:"max_entries"`
}

// VectorStoreConfig selects and configures the vector store provider.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // "memory", "chromem", "qdrant"
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the external Qdrant store.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
	Version string `koanf:"version"`
}

// NATSConfig configures the change-notification channel.
type NATSConfig struct {
	URL      string `koanf:"url"`
	Subject  string `koanf:"subject"`
	Embedded bool   `koanf:"embedded"`
}

// ObservabilityConfig configures telemetry export.
type ObservabilityConfig struct {
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	Enabled      bool   `koanf:"enabled"`
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Extraction.HighCoverageThreshold < c.Extraction.LowCoverageThreshold {
		return fmt.Errorf("extraction high_coverage_threshold (%v) must be >= low_coverage_threshold (%v)",
			c.Extraction.HighCoverageThreshold, c.Extraction.LowCoverageThreshold)
	}
	if c.Extraction.HighCoverageThreshold > 1 || c.Extraction.LowCoverageThreshold < 0 {
		return fmt.Errorf("coverage thresholds must be in [0,1]")
	}
	if c.Rewrite.MaxRewrites < 0 {
		return fmt.Errorf("rewrite max_rewrites must be >= 0, got %d", c.Rewrite.MaxRewrites)
	}
	if c.Search.PerQueryTimeout.Duration() <= 0 {
		return fmt.Errorf("search per_query_timeout must be > 0")
	}
	if c.Search.TotalTimeout.Duration() < c.Search.PerQueryTimeout.Duration() {
		return fmt.Errorf("search total_timeout must be >= per_query_timeout")
	}
	if c.Search.MaxResolverFanout <= 0 {
		return fmt.Errorf("search max_resolver_fanout must be > 0, got %d", c.Search.MaxResolverFanout)
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit requests_per_second must be > 0")
	}
	if c.RateLimit.MaxConcurrent <= 0 {
		return fmt.Errorf("ratelimit max_concurrent must be > 0")
	}
	switch c.VectorStore.Provider {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore provider must be memory, chromem or qdrant, got %q", c.VectorStore.Provider)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Extraction.HighCoverageThreshold == 0 {
		cfg.Extraction.HighCoverageThreshold = 0.8
	}
	if cfg.Extraction.LowCoverageThreshold == 0 {
		cfg.Extraction.LowCoverageThreshold = 0.5
	}
	if cfg.Extraction.Fallback.Timeout == 0 {
		cfg.Extraction.Fallback.Timeout = Duration(400 * time.Millisecond)
	}
	if cfg.Extraction.Fallback.RateLimit == 0 {
		cfg.Extraction.Fallback.RateLimit = 5
	}
	if cfg.Extraction.Fallback.Burst == 0 {
		cfg.Extraction.Fallback.Burst = 10
	}

	if cfg.Rewrite.MaxRewrites == 0 {
		cfg.Rewrite.MaxRewrites = 3
	}
	if cfg.Rewrite.Budget == 0 {
		cfg.Rewrite.Budget = Duration(150 * time.Millisecond)
	}

	if cfg.Search.PerQueryTimeout == 0 {
		cfg.Search.PerQueryTimeout = Duration(120 * time.Millisecond)
	}
	if cfg.Search.TotalTimeout == 0 {
		cfg.Search.TotalTimeout = Duration(2 * time.Second)
	}
	if cfg.Search.BatchInterval == 0 {
		cfg.Search.BatchInterval = Duration(50 * time.Millisecond)
	}
	if cfg.Search.MaxResolverFanout == 0 {
		cfg.Search.MaxResolverFanout = 6
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 20
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.MaxConcurrent == 0 {
		cfg.RateLimit.MaxConcurrent = 64
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(5 * time.Minute)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1024
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/searchd/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Version == "" {
		cfg.Embeddings.Version = "v1"
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "searchd.invalidate.>"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "searchd"
	}
}
