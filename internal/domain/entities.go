package domain

import "time"

// Document is an ingested source text. It is created once and never mutated.
type Document struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title,omitempty"`
	SourcePath  string         `json:"source_path,omitempty"`
	SourceType  string         `json:"source_type,omitempty"`
	RawContent  string         `json:"raw_content"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IngestedAt  time.Time      `json:"ingested_at"`
}

// NewDocument carries the fields of a document to insert; the store assigns
// the id and ingestion timestamp.
type NewDocument struct {
	Title       string
	SourcePath  string
	SourceType  string
	RawContent  string
	ContentHash string
	Metadata    map[string]any
}

// Chunk is a bounded window of a document's text.
// ChunkIndex < TotalChunks holds for every chunk of a document.
type Chunk struct {
	ID          int64     `json:"id"`
	DocumentID  int64     `json:"document_id"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewChunk carries the fields of a chunk to insert.
type NewChunk struct {
	DocumentID  int64
	ChunkIndex  int
	TotalChunks int
	Content     string
	ContentHash string
	Embedding   []float32 // optional
}

// SearchHit joins a chunk with its owning document and a similarity score
// (1 = identical direction).
type SearchHit struct {
	ChunkID         int64     `json:"chunk_id"`
	DocumentID      int64     `json:"document_id"`
	ChunkIndex      int       `json:"chunk_index"`
	TotalChunks     int       `json:"total_chunks"`
	Content         string    `json:"content"`
	ContentHash     string    `json:"content_hash"`
	CreatedAt       time.Time `json:"created_at"`
	Title           string    `json:"title,omitempty"`
	SourcePath      string    `json:"source_path,omitempty"`
	SourceType      string    `json:"source_type,omitempty"`
	SimilarityScore float64   `json:"similarity_score"`
}

// SearchQuery parameterises a ranked similarity lookup. MinScore is applied
// only when non-nil.
type SearchQuery struct {
	Vector   []float32
	MinScore *float64
	Limit    int
}

// IngestResult reports the outcome of ingesting one document.
type IngestResult struct {
	DocumentID     int64 `json:"document_id"`
	ChunksInserted int   `json:"chunks_inserted"`
	WasDuplicate   bool  `json:"was_duplicate"`
}

// HealthStatus is the embedding service readiness probe result.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	ModelPath   string `json:"model_path"`
}

// Ready reports whether the service can serve embed calls.
func (h HealthStatus) Ready() bool {
	return h.Status == "ok" && h.ModelLoaded
}

// Stats summarises store contents.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Source types produced by the file ingester.
const (
	SourceTypeText     = "text"
	SourceTypeMarkdown = "markdown"
	SourceTypePDF      = "pdf"
	SourceTypeRaw      = "raw"
)
