// Package storetest holds the behaviour every DocumentStore implementation
// must share. Adapters run it from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/adapter/hasher"
	"kb/internal/domain"
	"kb/internal/port"
)

// Dimension is the embedding size used by the suite.
const Dimension = 4

// Factory returns an empty store; the suite closes it.
type Factory func(t *testing.T) port.DocumentStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s port.DocumentStore)
	}{
		{"InsertAndGetDocument", testInsertAndGetDocument},
		{"DuplicateFingerprint", testDuplicateFingerprint},
		{"ChunksOrderedByIndex", testChunksOrderedByIndex},
		{"InsertChunkUnknownDocument", testInsertChunkUnknownDocument},
		{"InsertChunkIndexOutOfRange", testInsertChunkIndexOutOfRange},
		{"SimilarityRanking", testSimilarityRanking},
		{"SimilarityMinScoreAndLimit", testSimilarityMinScoreAndLimit},
		{"SimilarityTieBreak", testSimilarityTieBreak},
		{"PartialDocumentHidden", testPartialDocumentHidden},
		{"SimilarityInvalidLimit", testSimilarityInvalidLimit},
		{"DeleteDocumentCascades", testDeleteDocumentCascades},
		{"SharedChunkContent", testSharedChunkContent},
		{"Drop", testDrop},
		{"ConcurrentDuplicateInsert", testConcurrentDuplicateInsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func newDoc(content string) domain.NewDocument {
	return domain.NewDocument{
		Title:       "doc " + content,
		SourcePath:  "/tmp/" + content + ".txt",
		SourceType:  domain.SourceTypeText,
		RawContent:  content,
		ContentHash: hasher.Fingerprint(content),
		Metadata:    map[string]any{"filename": content + ".txt"},
	}
}

// insertDoc stores a document and one chunk per vector.
func insertDoc(t *testing.T, s port.DocumentStore, content string, vectors ...[]float32) int64 {
	t.Helper()
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, newDoc(content))
	require.NoError(t, err)

	for i, v := range vectors {
		text := fmt.Sprintf("%s chunk %d", content, i)
		_, err := s.InsertChunk(ctx, domain.NewChunk{
			DocumentID:  id,
			ChunkIndex:  i,
			TotalChunks: len(vectors),
			Content:     text,
			ContentHash: hasher.Fingerprint(text),
			Embedding:   v,
		})
		require.NoError(t, err)
	}
	return id
}

func testInsertAndGetDocument(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()
	in := newDoc("alpha")

	exists, err := s.ExistsByFingerprint(ctx, in.ContentHash)
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := s.InsertDocument(ctx, in)
	require.NoError(t, err)
	assert.Positive(t, id)

	exists, err = s.ExistsByFingerprint(ctx, in.ContentHash)
	require.NoError(t, err)
	assert.True(t, exists)

	doc, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, in.Title, doc.Title)
	assert.Equal(t, in.SourcePath, doc.SourcePath)
	assert.Equal(t, in.SourceType, doc.SourceType)
	assert.Equal(t, in.RawContent, doc.RawContent)
	assert.Equal(t, in.ContentHash, doc.ContentHash)
	assert.Equal(t, "alpha.txt", doc.Metadata["filename"])
	assert.False(t, doc.IngestedAt.IsZero())

	byHash, err := s.GetDocumentByFingerprint(ctx, in.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, id, byHash.ID)

	_, err = s.GetDocument(ctx, id+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetDocumentByFingerprint(ctx, hasher.Fingerprint("missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDuplicateFingerprint(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	_, err := s.InsertDocument(ctx, newDoc("same"))
	require.NoError(t, err)

	_, err = s.InsertDocument(ctx, newDoc("same"))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func testChunksOrderedByIndex(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, newDoc("ordered"))
	require.NoError(t, err)

	// Insert out of order; reads must come back by index.
	for _, i := range []int{2, 0, 1} {
		text := fmt.Sprintf("part %d", i)
		_, err := s.InsertChunk(ctx, domain.NewChunk{
			DocumentID:  id,
			ChunkIndex:  i,
			TotalChunks: 3,
			Content:     text,
			ContentHash: hasher.Fingerprint(text),
			Embedding:   []float32{float32(i + 1), 0, 0, 0},
		})
		require.NoError(t, err)
	}

	chunks, err := s.GetChunks(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 3, c.TotalChunks)
		assert.Equal(t, id, c.DocumentID)
		assert.Equal(t, fmt.Sprintf("part %d", i), c.Content)
		assert.Equal(t, []float32{float32(i + 1), 0, 0, 0}, c.Embedding)
	}

	none, err := s.GetChunks(ctx, id+1000)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testInsertChunkUnknownDocument(t *testing.T, s port.DocumentStore) {
	_, err := s.InsertChunk(context.Background(), domain.NewChunk{
		DocumentID:  42,
		ChunkIndex:  0,
		TotalChunks: 1,
		Content:     "orphan",
		ContentHash: hasher.Fingerprint("orphan"),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testInsertChunkIndexOutOfRange(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()
	id, err := s.InsertDocument(ctx, newDoc("range"))
	require.NoError(t, err)

	_, err = s.InsertChunk(ctx, domain.NewChunk{
		DocumentID:  id,
		ChunkIndex:  1,
		TotalChunks: 1,
		Content:     "x",
		ContentHash: hasher.Fingerprint("x"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testSimilarityRanking(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	target := []float32{0.1, 0.7, 0.2, 0.4}
	insertDoc(t, s, "first", []float32{1, 0, 0, 0}, target)
	insertDoc(t, s, "second", []float32{0, 0, 1, 0})

	hits, err := s.SimilaritySearch(ctx, domain.SearchQuery{Vector: target, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	top := hits[0]
	assert.InDelta(t, 1.0, top.SimilarityScore, 1e-4)
	assert.Equal(t, "first chunk 1", top.Content)
	assert.Equal(t, 1, top.ChunkIndex)
	assert.Equal(t, 2, top.TotalChunks)
	assert.Equal(t, "doc first", top.Title)
	assert.Equal(t, "/tmp/first.txt", top.SourcePath)
	assert.Equal(t, domain.SourceTypeText, top.SourceType)

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].SimilarityScore, hits[i].SimilarityScore)
	}
}

func testSimilarityMinScoreAndLimit(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	insertDoc(t, s, "a", []float32{1, 0, 0, 0})
	insertDoc(t, s, "b", []float32{1, 1, 0, 0})
	insertDoc(t, s, "c", []float32{0, 1, 0, 0})

	query := []float32{1, 0, 0, 0}

	hits, err := s.SimilaritySearch(ctx, domain.SearchQuery{Vector: query, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a chunk 0", hits[0].Content)
	assert.Equal(t, "b chunk 0", hits[1].Content)

	minScore := 0.5
	hits, err = s.SimilaritySearch(ctx, domain.SearchQuery{Vector: query, Limit: 10, MinScore: &minScore})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.SimilarityScore, minScore)
	}

	hits, err = s.SimilaritySearch(ctx, domain.SearchQuery{Vector: query, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func testSimilarityTieBreak(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	v := []float32{0, 0, 0, 1}
	insertDoc(t, s, "tie", v, v, v)

	hits, err := s.SimilaritySearch(ctx, domain.SearchQuery{Vector: v, Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Less(t, hits[0].ChunkID, hits[1].ChunkID)
	assert.Less(t, hits[1].ChunkID, hits[2].ChunkID)
}

func testPartialDocumentHidden(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	id, err := s.InsertDocument(ctx, newDoc("partial"))
	require.NoError(t, err)

	v := []float32{1, 0, 0, 0}
	_, err = s.InsertChunk(ctx, domain.NewChunk{
		DocumentID:  id,
		ChunkIndex:  0,
		TotalChunks: 2,
		Content:     "half",
		ContentHash: hasher.Fingerprint("half"),
		Embedding:   v,
	})
	require.NoError(t, err)

	hits, err := s.SimilaritySearch(ctx, domain.SearchQuery{Vector: v, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.InsertChunk(ctx, domain.NewChunk{
		DocumentID:  id,
		ChunkIndex:  1,
		TotalChunks: 2,
		Content:     "other half",
		ContentHash: hasher.Fingerprint("other half"),
		Embedding:   v,
	})
	require.NoError(t, err)

	hits, err = s.SimilaritySearch(ctx, domain.SearchQuery{Vector: v, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func testSimilarityInvalidLimit(t *testing.T, s port.DocumentStore) {
	_, err := s.SimilaritySearch(context.Background(), domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, Limit: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testDeleteDocumentCascades(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	keep := insertDoc(t, s, "keep", []float32{1, 0, 0, 0})
	gone := insertDoc(t, s, "gone", []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0})

	require.NoError(t, s.DeleteDocument(ctx, gone))

	_, err := s.GetDocument(ctx, gone)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	chunks, err := s.GetChunks(ctx, gone)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	exists, err := s.ExistsByFingerprint(ctx, hasher.Fingerprint("gone"))
	require.NoError(t, err)
	assert.False(t, exists)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Documents: 1, Chunks: 1}, stats)

	hits, err := s.SimilaritySearch(ctx, domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, keep, hits[0].DocumentID)

	assert.ErrorIs(t, s.DeleteDocument(ctx, gone), domain.ErrNotFound)

	// The fingerprint is free again.
	_, err = s.InsertDocument(ctx, newDoc("gone"))
	assert.NoError(t, err)
}

func testDrop(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()

	insertDoc(t, s, "one", []float32{1, 0, 0, 0})
	insertDoc(t, s, "two", []float32{0, 1, 0, 0})

	require.NoError(t, s.Drop(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)

	exists, err := s.ExistsByFingerprint(ctx, hasher.Fingerprint("one"))
	require.NoError(t, err)
	assert.False(t, exists)

	insertDoc(t, s, "three", []float32{0, 0, 1, 0})
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Documents: 1, Chunks: 1}, stats)
}

func testConcurrentDuplicateInsert(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()
	const workers = 8

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		inserted   int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertDocument(ctx, newDoc("racy"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case assert.ErrorIs(t, err, domain.ErrDuplicate):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, workers-1, duplicates)
}

// Two documents may carry an identical chunk; only document fingerprints
// are unique.
func testSharedChunkContent(t *testing.T, s port.DocumentStore) {
	ctx := context.Background()
	const paragraph = "Shared paragraph."

	for _, content := range []string{"first document", "second document"} {
		id, err := s.InsertDocument(ctx, newDoc(content))
		require.NoError(t, err)
		_, err = s.InsertChunk(ctx, domain.NewChunk{
			DocumentID:  id,
			ChunkIndex:  0,
			TotalChunks: 1,
			Content:     paragraph,
			ContentHash: hasher.Fingerprint(paragraph),
			Embedding:   []float32{1, 0, 0, 0},
		})
		require.NoError(t, err)
	}

	hits, err := s.SimilaritySearch(ctx, domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, hits[0].ContentHash, hits[1].ContentHash)
	assert.NotEqual(t, hits[0].DocumentID, hits[1].DocumentID)
}
