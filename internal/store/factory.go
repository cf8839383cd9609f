package store

import (
	"fmt"

	"github.com/fleetworks/searchd/internal/config"
	"github.com/fleetworks/searchd/internal/logging"
)

// NewFromConfig builds the configured store provider.
func NewFromConfig(cfg config.VectorStoreConfig, embedder Embedder, logger *logging.Logger) (Store, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemoryStore(embedder), nil
	case "chromem":
		return NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: string(cfg.Qdrant.APIKey),
			UseTLS: cfg.Qdrant.UseTLS,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("unknown vectorstore provider %q", cfg.Provider)
	}
}
