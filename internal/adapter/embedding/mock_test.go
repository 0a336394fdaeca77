package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestMockGatewayNormalised(t *testing.T) {
	gw := NewMockGateway(64)
	vectors, err := gw.EmbedDocumentChunks(context.Background(), []string{"alpha beta", "", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 64)
		assert.InDelta(t, 1.0, math.Sqrt(dot(v, v)), 1e-5)
	}
}

func TestMockGatewayQueryMatchesChunk(t *testing.T) {
	gw := NewMockGateway(128)
	ctx := context.Background()

	chunks, err := gw.EmbedDocumentChunks(ctx, []string{"quantum field theory", "sourdough bread recipe"})
	require.NoError(t, err)
	q, err := gw.EmbedQuery(ctx, "quantum field theory")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, dot(q, chunks[0]), 1e-5)
	assert.Less(t, dot(q, chunks[1]), dot(q, chunks[0]))
}

func TestMockGatewayContract(t *testing.T) {
	gw := NewMockGateway(0)
	ctx := context.Background()

	_, err := gw.EmbedDocumentChunks(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
	_, err = gw.EmbedDocuments(ctx, [][]string{{"a"}, nil})
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
	_, err = gw.EmbedQuery(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	status, err := gw.Health(ctx)
	require.NoError(t, err)
	assert.True(t, status.Ready())

	v, err := gw.EmbedQuery(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, v, DefaultDimension)
}
