package port

import (
	"context"

	"kb/internal/domain"
)

// EmbeddingGateway turns chunk groups into vectors via an external
// contextual embedding service. Implementations never retry.
type EmbeddingGateway interface {
	// EmbedDocumentChunks embeds all chunks of one document together so each
	// vector is conditioned on its neighbours. The result has the same length
	// and order as chunks. An empty slice is a caller error.
	EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error)

	// EmbedDocuments embeds several documents in one round-trip.
	// result[i][j] is the vector for chunk j of document i.
	EmbedDocuments(ctx context.Context, docs [][]string) ([][][]float32, error)

	// EmbedQuery embeds a single string as a one-chunk document.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Health probes liveness and model readiness.
	Health(ctx context.Context) (domain.HealthStatus, error)
}
