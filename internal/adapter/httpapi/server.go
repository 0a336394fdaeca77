// Package httpapi exposes ingestion and search over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"kb/internal/domain"
	applog "kb/internal/logger"
)

// Ingester stores documents.
type Ingester interface {
	Ingest(ctx context.Context, rawText, title, sourcePath, sourceType string, metadata map[string]any) (domain.IngestResult, error)
}

// Searcher answers similarity queries and document lookups.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, minScore *float64) ([]domain.SearchHit, error)
	Document(ctx context.Context, id int64) (domain.Document, []domain.Chunk, error)
}

// HealthChecker probes the embedding service.
type HealthChecker interface {
	Health(ctx context.Context) (domain.HealthStatus, error)
}

// Server wires the use cases to echo routes.
type Server struct {
	echo         *echo.Echo
	ingester     Ingester
	searcher     Searcher
	health       HealthChecker
	defaultLimit int
	logger       *slog.Logger
}

// New builds the server. A nil logger discards output.
func New(ingester Ingester, searcher Searcher, health HealthChecker, defaultLimit int, logger *slog.Logger) *Server {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	if logger == nil {
		logger = applog.Discard()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		ingester:     ingester,
		searcher:     searcher,
		health:       health,
		defaultLimit: defaultLimit,
		logger:       logger,
	}

	e.Use(s.requestLogger)

	e.GET("/healthz", s.Health)
	v1 := e.Group("/v1")
	v1.POST("/documents", s.IngestDocument)
	v1.GET("/documents/:id", s.GetDocument)
	v1.POST("/search", s.Search)

	return s
}

// Handler returns the HTTP handler, for tests and embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	s.logger.Info("http api listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

const headerRequestID = "X-Request-ID"

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(headerRequestID, id)

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info("http request",
			"request_id", id,
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start),
		)
		return nil
	}
}

type ingestRequest struct {
	Text       string         `json:"text"`
	Title      string         `json:"title"`
	SourcePath string         `json:"source_path"`
	SourceType string         `json:"source_type"`
	Metadata   map[string]any `json:"metadata"`
}

type searchRequest struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit"`
	MinScore *float64 `json:"min_score"`
}

type searchResponse struct {
	Results []domain.SearchHit `json:"results"`
}

type documentResponse struct {
	Document domain.Document `json:"document"`
	Chunks   []domain.Chunk  `json:"chunks"`
}

func (s *Server) IngestDocument(c echo.Context) error {
	var in ingestRequest
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid json"})
	}
	if in.SourceType == "" {
		in.SourceType = domain.SourceTypeRaw
	}

	res, err := s.ingester.Ingest(c.Request().Context(), in.Text, in.Title, in.SourcePath, in.SourceType, in.Metadata)
	if err != nil {
		return s.fail(c, err)
	}
	if res.WasDuplicate {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) Search(c echo.Context) error {
	var in searchRequest
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid json"})
	}
	if in.Limit == 0 {
		in.Limit = s.defaultLimit
	}

	hits, err := s.searcher.Search(c.Request().Context(), in.Query, in.Limit, in.MinScore)
	if err != nil {
		return s.fail(c, err)
	}
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	return c.JSON(http.StatusOK, searchResponse{Results: hits})
}

func (s *Server) GetDocument(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	doc, chunks, err := s.searcher.Document(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	return c.JSON(http.StatusOK, documentResponse{Document: doc, Chunks: chunks})
}

func (s *Server) Health(c echo.Context) error {
	status, err := s.health.Health(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unreachable", "error": err.Error()})
	}
	if !status.Ready() {
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNoContent),
		errors.Is(err, domain.ErrUnsupportedSourceType):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrEmbedding):
		code = http.StatusBadGateway
	}
	if code >= 500 {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(code, echo.Map{"error": err.Error()})
}
