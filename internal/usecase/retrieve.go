package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kb/internal/domain"
	applog "kb/internal/logger"
	"kb/internal/port"
)

// RetrieveUseCase handles search operations. Ranking belongs to the store;
// results are returned as the store ordered them.
type RetrieveUseCase struct {
	store    port.DocumentStore
	embedder port.EmbeddingGateway
	logger   *slog.Logger
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(store port.DocumentStore, embedder port.EmbeddingGateway, logger *slog.Logger) *RetrieveUseCase {
	if logger == nil {
		logger = applog.Discard()
	}
	return &RetrieveUseCase{
		store:    store,
		embedder: embedder,
		logger:   logger,
	}
}

// Search embeds query and returns at most limit chunks by descending
// similarity. minScore, when non-nil, drops weaker hits.
func (u *RetrieveUseCase) Search(ctx context.Context, query string, limit int, minScore *float64) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}

	vec, err := u.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embedding query: %w", err)
	}

	hits, err := u.store.SimilaritySearch(ctx, domain.SearchQuery{
		Vector:   vec,
		MinScore: minScore,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	u.logger.Debug("search complete", "query_len", len(query), "limit", limit, "hits", len(hits))
	return hits, nil
}

// Document returns a stored document together with its ordered chunks.
func (u *RetrieveUseCase) Document(ctx context.Context, id int64) (domain.Document, []domain.Chunk, error) {
	doc, err := u.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	chunks, err := u.store.GetChunks(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	return doc, chunks, nil
}
