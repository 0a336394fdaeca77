package port

import (
	"context"

	"kb/internal/domain"
)

// DocumentStore persists documents, chunks and vectors and answers ranked
// similarity queries.
//
// Implementations enforce fingerprint uniqueness (InsertDocument returns
// domain.ErrDuplicate on conflict) and must never expose a partially
// inserted document to SimilaritySearch.
//
// Chunk content hashes are indexed but deliberately not unique: documents
// that share a paragraph produce identical chunks, and both must ingest.
// Uniqueness of a chunk is (document id, chunk index).
type DocumentStore interface {
	ExistsByFingerprint(ctx context.Context, hash string) (bool, error)

	// GetDocumentByFingerprint returns domain.ErrNotFound when absent.
	GetDocumentByFingerprint(ctx context.Context, hash string) (domain.Document, error)

	InsertDocument(ctx context.Context, doc domain.NewDocument) (int64, error)

	InsertChunk(ctx context.Context, chunk domain.NewChunk) (int64, error)

	// GetDocument returns domain.ErrNotFound when absent.
	GetDocument(ctx context.Context, id int64) (domain.Document, error)

	// GetChunks returns the chunks of a document ordered by chunk index.
	GetChunks(ctx context.Context, documentID int64) ([]domain.Chunk, error)

	// SimilaritySearch returns at most q.Limit hits by descending cosine
	// similarity, ties broken by ascending chunk id.
	SimilaritySearch(ctx context.Context, q domain.SearchQuery) ([]domain.SearchHit, error)

	// DeleteDocument removes a document and cascades to its chunks.
	DeleteDocument(ctx context.Context, id int64) error

	// Drop removes every document and chunk.
	Drop(ctx context.Context) error

	Stats(ctx context.Context) (domain.Stats, error)

	Close() error
}
