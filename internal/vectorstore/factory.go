package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"go.uber.org/zap"
)

// NewIndex builds the Index selected by cfg.VectorStore.Provider.
func NewIndex(cfg *config.Config, logger *zap.Logger) (Index, error) {
	switch cfg.VectorStore.Provider {
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:         cfg.Qdrant.Host,
			Port:         cfg.Qdrant.Port,
			APIKey:       cfg.Qdrant.APIKey.Value(),
			UseTLS:       cfg.Qdrant.UseTLS,
			VectorSize:   cfg.VectorStore.VectorSize,
			MaxRetries:   cfg.Qdrant.MaxRetries,
			RetryBackoff: cfg.Qdrant.RetryBackoff.Duration(),
		}, logger)
	case "chromem":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			VectorSize: cfg.VectorStore.VectorSize,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}
