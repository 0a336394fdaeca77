package domain

import (
	"errors"
	"fmt"
)

// Configuration errors.
var (
	// ErrInvalidConfig indicates constructor parameters violate their constraints.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Content errors are reported to the caller and never retried.
var (
	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyQuery indicates a search query that is empty after trimming.
	ErrEmptyQuery = fmt.Errorf("%w: search query cannot be empty", ErrInvalidInput)

	// ErrInvalidLimit indicates a non-positive result limit.
	ErrInvalidLimit = fmt.Errorf("%w: limit must be positive", ErrInvalidInput)

	// ErrNoContent indicates a document produced no ingestible chunks.
	ErrNoContent = errors.New("document produced no ingestible content")

	// ErrUnsupportedSourceType indicates a file type the ingester cannot read.
	ErrUnsupportedSourceType = errors.New("unsupported source type")
)

// Collaborator errors.
var (
	// ErrEmbedding indicates the embedding service failed or returned garbage.
	ErrEmbedding = errors.New("embedding service error")

	// ErrStore indicates the document store failed.
	ErrStore = errors.New("document store error")

	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness violation on a content fingerprint.
	ErrDuplicate = errors.New("duplicate content fingerprint")
)

// Contract violations.
var (
	// ErrEmbeddingCountMismatch indicates the gateway returned a different
	// number of vectors than chunks it was given.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")

	// ErrEmptyBatch indicates an embed call with nothing to embed.
	ErrEmptyBatch = errors.New("embedding batch must not be empty")
)

// EmbeddingError is returned by embedding gateways for transport failures,
// non-success responses and malformed payloads.
type EmbeddingError struct {
	Op         string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *EmbeddingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is reports every EmbeddingError as an ErrEmbedding.
func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// Temporary reports whether retrying the call may succeed.
func (e *EmbeddingError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, ErrEmptyBatch) && !errors.Is(e.Err, ErrInvalidInput) && !errors.Is(e.Err, ErrMalformedResponse)
	case e.StatusCode == 429:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// ErrMalformedResponse indicates an embedding payload that could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")
