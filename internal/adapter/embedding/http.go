package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kb/internal/domain"
)

const (
	DefaultServerURL     = "http://127.0.0.1:8765"
	DefaultEmbedTimeout  = 60 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultDimension     = 1024
)

// Config configures the HTTP embedding gateway.
type Config struct {
	ServerURL     string
	EmbedTimeout  time.Duration
	HealthTimeout time.Duration
	// Dimension, when positive, is enforced on every returned vector.
	Dimension int
}

// HTTPGateway talks to the contextual embedding server over JSON/HTTP.
// It is safe for concurrent use.
type HTTPGateway struct {
	baseURL      string
	dimension    int
	embedClient  *http.Client
	healthClient *http.Client
}

type embedRequest struct {
	Chunks [][]string `json:"chunks"`
}

type embedResponse struct {
	Embeddings [][][]float32 `json:"embeddings"`
}

type embedQueryRequest struct {
	Query string `json:"query"`
}

type embedQueryResponse struct {
	Embedding []float32 `json:"embedding"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	ModelPath   string `json:"model_path"`
}

func NewHTTPGateway(cfg Config) *HTTPGateway {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}

	return &HTTPGateway{
		baseURL:      strings.TrimRight(cfg.ServerURL, "/"),
		dimension:    cfg.Dimension,
		embedClient:  &http.Client{Timeout: cfg.EmbedTimeout},
		healthClient: &http.Client{Timeout: cfg.HealthTimeout},
	}
}

func (g *HTTPGateway) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("embed_document: %w", domain.ErrEmptyBatch)
	}

	docs, err := g.embed(ctx, "embed_document", [][]string{chunks})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (g *HTTPGateway) EmbedDocuments(ctx context.Context, docs [][]string) ([][][]float32, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("embed_documents: %w", domain.ErrEmptyBatch)
	}
	for i, doc := range docs {
		if len(doc) == 0 {
			return nil, fmt.Errorf("embed_documents: document %d: %w", i, domain.ErrEmptyBatch)
		}
	}
	return g.embed(ctx, "embed_documents", docs)
}

func (g *HTTPGateway) embed(ctx context.Context, op string, docs [][]string) ([][][]float32, error) {
	var resp embedResponse
	if err := g.do(ctx, g.embedClient, op, http.MethodPost, "/embed", embedRequest{Chunks: docs}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(docs) {
		return nil, &domain.EmbeddingError{
			Op:  op,
			Err: fmt.Errorf("%w: expected %d documents, got %d", domain.ErrMalformedResponse, len(docs), len(resp.Embeddings)),
		}
	}
	for _, doc := range resp.Embeddings {
		for _, vec := range doc {
			if err := g.checkDimension(op, vec); err != nil {
				return nil, err
			}
		}
	}

	return resp.Embeddings, nil
}

func (g *HTTPGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed_query: %w", domain.ErrEmptyQuery)
	}

	var resp embedQueryResponse
	if err := g.do(ctx, g.embedClient, "embed_query", http.MethodPost, "/embed_query", embedQueryRequest{Query: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, &domain.EmbeddingError{
			Op:  "embed_query",
			Err: fmt.Errorf("%w: empty embedding", domain.ErrMalformedResponse),
		}
	}
	if err := g.checkDimension("embed_query", resp.Embedding); err != nil {
		return nil, err
	}

	return resp.Embedding, nil
}

func (g *HTTPGateway) Health(ctx context.Context) (domain.HealthStatus, error) {
	var resp healthResponse
	if err := g.do(ctx, g.healthClient, "health", http.MethodGet, "/health", nil, &resp); err != nil {
		return domain.HealthStatus{}, err
	}
	return domain.HealthStatus{
		Status:      resp.Status,
		ModelLoaded: resp.ModelLoaded,
		Device:      resp.Device,
		ModelPath:   resp.ModelPath,
	}, nil
}

func (g *HTTPGateway) checkDimension(op string, vec []float32) error {
	if g.dimension > 0 && len(vec) != g.dimension {
		return &domain.EmbeddingError{
			Op:  op,
			Err: fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d", domain.ErrMalformedResponse, g.dimension, len(vec)),
		}
	}
	return nil
}

func (g *HTTPGateway) do(ctx context.Context, client *http.Client, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &domain.EmbeddingError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return &domain.EmbeddingError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &domain.EmbeddingError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.EmbeddingError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.EmbeddingError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", preview(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.EmbeddingError{
			Op:  op,
			Err: fmt.Errorf("%w (body: %s): %v", domain.ErrMalformedResponse, preview(data), err),
		}
	}

	return nil
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
