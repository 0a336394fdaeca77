package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/adapter/chunker"
	"kb/internal/adapter/embedding"
	"kb/internal/adapter/fs"
	"kb/internal/adapter/hasher"
	"kb/internal/adapter/memstore"
	"kb/internal/domain"
	"kb/internal/port"
)

const testDimension = 32

type fixture struct {
	store    *memstore.MemoryStore
	embedder port.EmbeddingGateway
	ingest   *IngestUseCase
	retrieve *RetrieveUseCase
}

func newFixture(t *testing.T, embedder port.EmbeddingGateway) *fixture {
	t.Helper()
	if embedder == nil {
		embedder = embedding.NewMockGateway(testDimension)
	}
	ch, err := chunker.NewTextChunker(40, 8)
	require.NoError(t, err)

	st := memstore.NewMemoryStore()
	return &fixture{
		store:    st,
		embedder: embedder,
		ingest:   NewIngestUseCase(st, embedder, ch, hasher.New(), fs.NewWalker(nil, nil), fs.NewReader(), nil),
		retrieve: NewRetrieveUseCase(st, embedder, nil),
	}
}

// countingGateway returns a fixed number of vectors regardless of input.
type countingGateway struct {
	*embedding.MockGateway
	vectors int
	err     error
}

func (g *countingGateway) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make([][]float32, g.vectors)
	for i := range out {
		out[i] = make([]float32, testDimension)
		out[i][0] = 1
	}
	return out, nil
}

// batchGateway counts batch and single-document embed calls and can fail
// every batch call.
type batchGateway struct {
	*embedding.MockGateway
	batchCalls  int
	singleCalls int
	groups      []int
	failBatch   bool
}

func (g *batchGateway) EmbedDocuments(ctx context.Context, docs [][]string) ([][][]float32, error) {
	g.batchCalls++
	g.groups = append(g.groups, len(docs))
	if g.failBatch {
		return nil, &domain.EmbeddingError{Op: "embed_documents", StatusCode: 422, Err: errors.New("one document too long")}
	}
	return g.MockGateway.EmbedDocuments(ctx, docs)
}

func (g *batchGateway) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	g.singleCalls++
	return g.MockGateway.EmbedDocumentChunks(ctx, chunks)
}

// racingStore hides existing documents from the fingerprint check, as if a
// concurrent ingest committed between the check and the insert.
type racingStore struct {
	*memstore.MemoryStore
}

func (racingStore) ExistsByFingerprint(ctx context.Context, hash string) (bool, error) {
	return false, nil
}

// failingChunkStore fails chunk inserts after the first n succeed.
type failingChunkStore struct {
	*memstore.MemoryStore
	allow int
}

func (s *failingChunkStore) InsertChunk(ctx context.Context, c domain.NewChunk) (int64, error) {
	if s.allow == 0 {
		return 0, errors.New("disk full")
	}
	s.allow--
	return s.MemoryStore.InsertChunk(ctx, c)
}

const longText = "Contextual retrieval embeds every chunk of a document together so that each vector reflects its neighbours. " +
	"The index stores those vectors and answers cosine similarity queries over complete documents only."

func TestIngestRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.ingest.Ingest(ctx, longText, "Retrieval", "/docs/retrieval.md", domain.SourceTypeMarkdown, map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.False(t, res.WasDuplicate)
	assert.Positive(t, res.DocumentID)

	ch, _ := chunker.NewTextChunker(40, 8)
	want := ch.Chunk(longText)
	assert.Equal(t, len(want), res.ChunksInserted)

	chunks, err := f.store.GetChunks(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, len(want))
	for i, c := range chunks {
		assert.Equal(t, want[i], c.Content)
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(want), c.TotalChunks)
		assert.Equal(t, hasher.Fingerprint(want[i]), c.ContentHash)
		assert.Len(t, c.Embedding, testDimension)
	}

	doc, err := f.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Retrieval", doc.Title)
	assert.Equal(t, hasher.Fingerprint(longText), doc.ContentHash)
	assert.Equal(t, "en", doc.Metadata["lang"])
}

func TestIngestIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.ingest.IngestRaw(ctx, longText, "a", "", domain.SourceTypeRaw)
	require.NoError(t, err)
	assert.False(t, first.WasDuplicate)

	second, err := f.ingest.IngestRaw(ctx, longText, "a different title", "", domain.SourceTypeRaw)
	require.NoError(t, err)
	assert.True(t, second.WasDuplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Zero(t, second.ChunksInserted)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, first.ChunksInserted, stats.Chunks)
}

func TestIngestEmptyContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, text := range []string{"", "   \n\t  "} {
		_, err := f.ingest.IngestRaw(ctx, text, "blank", "", domain.SourceTypeRaw)
		assert.ErrorIs(t, err, domain.ErrNoContent)
	}

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)
}

func TestIngestEmbeddingCountMismatch(t *testing.T) {
	gw := &countingGateway{MockGateway: embedding.NewMockGateway(testDimension), vectors: 1}
	f := newFixture(t, gw)
	ctx := context.Background()

	_, err := f.ingest.IngestRaw(ctx, longText, "t", "", domain.SourceTypeRaw)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingCountMismatch)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.Documents)

	// The content can be ingested once the gateway behaves.
	exists, err := f.store.ExistsByFingerprint(ctx, hasher.Fingerprint(longText))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIngestEmbeddingFailureRollsBack(t *testing.T) {
	gw := &countingGateway{
		MockGateway: embedding.NewMockGateway(testDimension),
		err:         &domain.EmbeddingError{Op: "embed_document", StatusCode: 503, Err: errors.New("model not loaded")},
	}
	f := newFixture(t, gw)
	ctx := context.Background()

	_, err := f.ingest.IngestRaw(ctx, longText, "t", "", domain.SourceTypeRaw)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)
}

func TestIngestChunkInsertFailureRollsBack(t *testing.T) {
	st := &failingChunkStore{MemoryStore: memstore.NewMemoryStore(), allow: 1}
	ch, err := chunker.NewTextChunker(40, 8)
	require.NoError(t, err)
	uc := NewIngestUseCase(st, embedding.NewMockGateway(testDimension), ch, hasher.New(), nil, nil, nil)
	ctx := context.Background()

	_, err = uc.IngestRaw(ctx, longText, "t", "", domain.SourceTypeRaw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)
}

func TestIngestDuplicateRace(t *testing.T) {
	st := racingStore{memstore.NewMemoryStore()}
	ch, err := chunker.NewTextChunker(40, 8)
	require.NoError(t, err)
	uc := NewIngestUseCase(st, embedding.NewMockGateway(testDimension), ch, hasher.New(), nil, nil, nil)
	ctx := context.Background()

	first, err := uc.IngestRaw(ctx, longText, "t", "", domain.SourceTypeRaw)
	require.NoError(t, err)

	second, err := uc.IngestRaw(ctx, longText, "t", "", domain.SourceTypeRaw)
	require.NoError(t, err)
	assert.True(t, second.WasDuplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Zero(t, second.ChunksInserted)
}

func TestIngestFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte(longText), 0o644))

	res, err := f.ingest.IngestFile(ctx, path)
	require.NoError(t, err)

	doc, err := f.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.Title)
	assert.Equal(t, domain.SourceTypeMarkdown, doc.SourceType)
	assert.Equal(t, path, doc.SourcePath)
	assert.Equal(t, "notes.md", doc.Metadata["filename"])

	pdf := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.7"), 0o644))
	_, err = f.ingest.IngestFile(ctx, pdf)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	csv := filepath.Join(dir, "table.csv")
	require.NoError(t, os.WriteFile(csv, []byte("a,b"), 0o644))
	_, err = f.ingest.IngestFile(ctx, csv)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSourceType)
}

func TestIngestRejectsInvalidUTF8(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ingest.IngestRaw(ctx, "ab\xffcd", "binary", "", domain.SourceTypeRaw)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	path := filepath.Join(t.TempDir(), "latin1.txt")
	require.NoError(t, os.WriteFile(path, []byte("caf\xe9"), 0o644))
	_, err = f.ingest.IngestFile(ctx, path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)
}

func TestIngestDir(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	files := map[string]string{
		"a.txt":         "Alpha document about bbolt storage engines.",
		"sub/b.md":      "# Beta\n\nA markdown note about cosine similarity.",
		"sub/copy.txt":  "Alpha document about bbolt storage engines.",
		"empty.txt":     "   ",
		"ignored.csv":   "a,b",
		".kb/cache.txt": "internal",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	var calls, lastTotal int
	res, err := f.ingest.IngestDir(ctx, dir, func(done, total int) {
		calls++
		lastTotal = total
		assert.Equal(t, calls, done)
	})
	require.NoError(t, err)

	assert.Equal(t, 4, lastTotal)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 2, res.Ingested)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.Contains(res.Errors[0], "empty.txt"))
	assert.Positive(t, res.ChunksInserted)
}

func TestIngestDirCanceled(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("text"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ingest.IngestDir(ctx, dir, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeNumberedFiles(t *testing.T, dir string, n int) {
	t.Helper()
	for i := range n {
		path := filepath.Join(dir, fmt.Sprintf("doc%02d.txt", i))
		content := fmt.Sprintf("Document number %d talks about topic %d in some detail.", i, i*7)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestIngestDirBatchesEmbedding(t *testing.T) {
	gw := &batchGateway{MockGateway: embedding.NewMockGateway(testDimension)}
	f := newFixture(t, gw)
	ctx := context.Background()
	dir := t.TempDir()
	writeNumberedFiles(t, dir, DirBatchSize+3)

	res, err := f.ingest.IngestDir(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, DirBatchSize+3, res.Ingested)
	assert.Zero(t, res.Failed)

	assert.Equal(t, 2, gw.batchCalls)
	assert.Equal(t, []int{DirBatchSize, 3}, gw.groups)
	assert.Zero(t, gw.singleCalls)

	// Every document keeps its own chunk group and is searchable.
	hits, err := f.retrieve.Search(ctx, "Document number 4 talks about topic 28", 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc04", hits[0].Title)
}

func TestIngestDirFallsBackWhenBatchFails(t *testing.T) {
	gw := &batchGateway{MockGateway: embedding.NewMockGateway(testDimension), failBatch: true}
	f := newFixture(t, gw)
	ctx := context.Background()
	dir := t.TempDir()
	writeNumberedFiles(t, dir, 3)

	res, err := f.ingest.IngestDir(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)
	assert.Equal(t, 1, gw.batchCalls)
	assert.Equal(t, 3, gw.singleCalls)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
}
