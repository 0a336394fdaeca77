package embedding

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

// flakyGateway fails the first n calls with err.
type flakyGateway struct {
	MockGateway
	failures int
	err      error
	calls    int
}

func (f *flakyGateway) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.MockGateway.EmbedDocumentChunks(ctx, chunks)
}

func (f *flakyGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.MockGateway.EmbedQuery(ctx, text)
}

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	inner := &flakyGateway{
		MockGateway: *NewMockGateway(8),
		failures:    2,
		err:         &domain.EmbeddingError{Op: "embed_document", StatusCode: http.StatusServiceUnavailable, Err: errors.New("busy")},
	}
	gw := NewRetrying(inner, RetryConfig{MaxRetries: 3, Backoff: time.Millisecond})

	vectors, err := gw.EmbedDocumentChunks(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyGateway{
		MockGateway: *NewMockGateway(8),
		failures:    10,
		err:         &domain.EmbeddingError{Op: "embed_query", Err: errors.New("connection refused")},
	}
	gw := NewRetrying(inner, RetryConfig{MaxRetries: 2, Backoff: time.Millisecond})

	_, err := gw.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingDoesNotRetryClientErrors(t *testing.T) {
	inner := &flakyGateway{
		MockGateway: *NewMockGateway(8),
		failures:    10,
		err:         &domain.EmbeddingError{Op: "embed_query", StatusCode: http.StatusUnprocessableEntity, Err: errors.New("query must not be empty")},
	}
	gw := NewRetrying(inner, RetryConfig{MaxRetries: 5, Backoff: time.Millisecond})

	_, err := gw.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingZeroRetriesIsPassThrough(t *testing.T) {
	inner := &flakyGateway{
		MockGateway: *NewMockGateway(8),
		failures:    1,
		err:         &domain.EmbeddingError{Op: "embed_query", StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")},
	}
	gw := NewRetrying(inner, RetryConfig{})

	_, err := gw.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingStopsOnCancel(t *testing.T) {
	inner := &flakyGateway{
		MockGateway: *NewMockGateway(8),
		failures:    10,
		err:         &domain.EmbeddingError{Op: "embed_query", StatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")},
	}
	gw := NewRetrying(inner, RetryConfig{MaxRetries: 10, Backoff: time.Hour, RequestsPerSecond: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.EmbedQuery(ctx, "q")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
