package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Pi), math.MaxFloat32}
	blob := Encode(in)
	assert.Len(t, blob, len(in)*4)

	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.Nil(t, Encode(nil))
	out, err = Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	hits := []domain.SearchHit{
		{ChunkID: 4, SimilarityScore: 0.5},
		{ChunkID: 2, SimilarityScore: 0.9},
		{ChunkID: 3, SimilarityScore: 0.5},
		{ChunkID: 1, SimilarityScore: 0.1},
	}

	ranked := Rank(hits, 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, int64(2), ranked[0].ChunkID)
	assert.Equal(t, int64(3), ranked[1].ChunkID)
	assert.Equal(t, int64(4), ranked[2].ChunkID)

	assert.Len(t, Rank(hits, 10), 4)
	assert.Empty(t, Rank(hits, 0))
}
