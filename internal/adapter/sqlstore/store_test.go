package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/adapter/storetest"
	"kb/internal/adapter/vector"
	"kb/internal/domain"
	"kb/internal/port"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "kb.sqlite"), storetest.Dimension)
	require.NoError(t, err)
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.DocumentStore {
		return newTestStore(t)
	})
}

func TestStoreMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.sqlite")

	s, err := NewStore(path, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(path, 0)
	require.NoError(t, err)
	defer s.Close()

	var versions int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)
	assert.Equal(t, 4, s.dimension)
}

func TestStoreDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.sqlite")

	s, err := NewStore(path, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewStore(path, 16)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestStoreCascadeDeleteUsesForeignKey(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, domain.NewDocument{RawContent: "x", ContentHash: "hx"})
	require.NoError(t, err)
	_, err = s.InsertChunk(ctx, domain.NewChunk{DocumentID: id, ChunkIndex: 0, TotalChunks: 1, Content: "x", ContentHash: "cx"})
	require.NoError(t, err)

	// Bypass DeleteDocument so only the schema removes the chunk.
	_, err = s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Chunks)
}

func TestVecCosineFunction(t *testing.T) {
	require.NoError(t, registerFunctions())

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var score float64
	err = db.QueryRow("SELECT vec_cosine(?, ?)", vector.Encode([]float32{1, 0}), vector.Encode([]float32{1, 1})).Scan(&score)
	require.NoError(t, err)
	assert.InDelta(t, 0.7071, score, 1e-4)

	var null sql.NullFloat64
	err = db.QueryRow("SELECT vec_cosine(NULL, ?)", vector.Encode([]float32{1})).Scan(&null)
	require.NoError(t, err)
	assert.False(t, null.Valid)
}
