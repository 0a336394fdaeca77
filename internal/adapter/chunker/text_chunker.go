package chunker

import (
	"fmt"
	"strings"

	"kb/internal/domain"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// TextChunker slides a window of chunkSize characters over the text,
// stepping by chunkSize-overlap. Windows are measured in runes so multi-byte
// characters are never split.
type TextChunker struct {
	chunkSize int
	overlap   int
}

func NewTextChunker(chunkSize, overlap int) (*TextChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidConfig, chunkSize, overlap)
	}
	return &TextChunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}, nil
}

func (c *TextChunker) ChunkSize() int { return c.chunkSize }

func (c *TextChunker) Overlap() int { return c.overlap }

// Chunk returns the trimmed, non-empty windows of text in order.
// Windows that trim to empty are dropped without affecting the cursor.
func (c *TextChunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	step := c.chunkSize - c.overlap

	var chunks []string
	for start := 0; start < n; start += step {
		end := start + c.chunkSize
		if end > n {
			end = n
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == n {
			break
		}
	}

	return chunks
}
