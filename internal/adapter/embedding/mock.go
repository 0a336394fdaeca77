package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"kb/internal/domain"
)

// MockGateway embeds text locally as an L2-normalised bag of hashed words.
// Identical text always yields identical vectors, and texts sharing words
// score above unrelated ones, which is enough for offline use and tests.
type MockGateway struct {
	dimension int
}

func NewMockGateway(dimension int) *MockGateway {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &MockGateway{dimension: dimension}
}

func (m *MockGateway) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("embed_document: %w", domain.ErrEmptyBatch)
	}
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = m.vector(c)
	}
	return vectors, nil
}

func (m *MockGateway) EmbedDocuments(ctx context.Context, docs [][]string) ([][][]float32, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("embed_documents: %w", domain.ErrEmptyBatch)
	}
	out := make([][][]float32, len(docs))
	for i, doc := range docs {
		vectors, err := m.EmbedDocumentChunks(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("embed_documents: document %d: %w", i, err)
		}
		out[i] = vectors
	}
	return out, nil
}

func (m *MockGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed_query: %w", domain.ErrEmptyQuery)
	}
	return m.vector(text), nil
}

func (m *MockGateway) Health(ctx context.Context) (domain.HealthStatus, error) {
	return domain.HealthStatus{
		Status:      "ok",
		ModelLoaded: true,
		Device:      "cpu",
		ModelPath:   "mock",
	}, nil
}

func (m *MockGateway) vector(text string) []float32 {
	vec := make([]float32, m.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(m.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
