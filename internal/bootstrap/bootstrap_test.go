package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/config"
	"kb/internal/adapter/cache"
	"kb/internal/adapter/embedding"
	"kb/internal/adapter/memstore"
	"kb/internal/adapter/sqlstore"
	"kb/internal/adapter/store"
	"kb/internal/domain"
)

func TestOpenStore(t *testing.T) {
	tests := []struct {
		driver string
		check  func(t *testing.T, v any)
	}{
		{config.DriverBolt, func(t *testing.T, v any) { assert.IsType(t, &store.BoltStore{}, v) }},
		{config.DriverSQLite, func(t *testing.T, v any) { assert.IsType(t, &sqlstore.Store{}, v) }},
		{config.DriverMemory, func(t *testing.T, v any) { assert.IsType(t, &memstore.MemoryStore{}, v) }},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Store.Driver = tt.driver
			cfg.Store.Path = filepath.Join(t.TempDir(), "kb.db")
			cfg.Embedding.Dimension = 8

			st, err := OpenStore(cfg)
			require.NoError(t, err)
			defer st.Close()
			tt.check(t, st)

			stats, err := st.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, domain.Stats{}, stats)
		})
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "redis"
	_, err := OpenStore(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestNewGateway(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimension = 8
	cfg.Embedding.QueryCacheSize = 0
	assert.IsType(t, &embedding.MockGateway{}, NewGateway(cfg))

	cfg.Embedding.MaxRetries = 2
	assert.IsType(t, &embedding.Retrying{}, NewGateway(cfg))

	cfg.Embedding.QueryCacheSize = 16
	gw := NewGateway(cfg)
	assert.IsType(t, &cache.CachedGateway{}, gw)

	vec, err := gw.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	cfg = config.DefaultConfig()
	cfg.Embedding.QueryCacheSize = 0
	assert.IsType(t, &embedding.HTTPGateway{}, NewGateway(cfg))
}
