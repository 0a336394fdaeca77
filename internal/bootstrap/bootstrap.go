// Package bootstrap builds the configured store and embedding gateway for
// the kb binaries.
package bootstrap

import (
	"fmt"

	"kb/config"
	"kb/internal/adapter/cache"
	"kb/internal/adapter/embedding"
	"kb/internal/adapter/memstore"
	"kb/internal/adapter/sqlstore"
	"kb/internal/adapter/store"
	"kb/internal/domain"
	"kb/internal/port"
)

// OpenStore opens the document store selected by cfg.Store.Driver.
func OpenStore(cfg *config.Config) (port.DocumentStore, error) {
	switch cfg.Store.Driver {
	case config.DriverBolt:
		return store.NewBoltStore(cfg.Store.Path, cfg.Embedding.Dimension)
	case config.DriverSQLite:
		return sqlstore.NewStore(cfg.Store.Path, cfg.Embedding.Dimension)
	case config.DriverMemory:
		return memstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", domain.ErrInvalidConfig, cfg.Store.Driver)
	}
}

// NewGateway builds the embedding gateway for cfg.Embedding.Provider,
// wrapped with retries and the query cache when configured.
func NewGateway(cfg *config.Config) port.EmbeddingGateway {
	var gw port.EmbeddingGateway
	switch cfg.Embedding.Provider {
	case config.ProviderMock:
		gw = embedding.NewMockGateway(cfg.Embedding.Dimension)
	default:
		gw = embedding.NewHTTPGateway(embedding.Config{
			ServerURL:     cfg.Embedding.ServerURL,
			EmbedTimeout:  cfg.Embedding.EmbedTimeout(),
			HealthTimeout: cfg.Embedding.HealthTimeout(),
			Dimension:     cfg.Embedding.Dimension,
		})
	}

	if cfg.Embedding.MaxRetries > 0 || cfg.Embedding.RequestsPerSecond > 0 {
		gw = embedding.NewRetrying(gw, embedding.RetryConfig{
			MaxRetries:        cfg.Embedding.MaxRetries,
			Backoff:           cfg.Embedding.RetryBackoff(),
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		})
	}
	if cfg.Embedding.QueryCacheSize > 0 {
		gw = cache.NewCachedGateway(gw, cache.NewQueryCache(cfg.Embedding.QueryCacheSize, cfg.Embedding.QueryCacheTTL()))
	}
	return gw
}
