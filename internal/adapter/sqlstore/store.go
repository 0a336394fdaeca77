// Package sqlstore implements the DocumentStore on SQLite with the
// relational documents/chunks schema and exact cosine search through the
// vec_cosine SQL function.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"kb/internal/adapter/vector"
	"kb/internal/domain"
	"kb/internal/port"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a DocumentStore backed by a SQLite database file.
type Store struct {
	db        *sql.DB
	path      string
	dimension int
}

var _ port.DocumentStore = (*Store)(nil)

// NewStore opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway database. A positive
// dimension is recorded on first use and enforced afterwards.
func NewStore(path string, dimension int) (*Store, error) {
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("%w: registering vec_cosine: %v", domain.ErrStore, err)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", domain.ErrStore, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", domain.ErrStore, err)
	}
	// One writer at a time; this also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, dimension: dimension}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkDimension(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: creating schema_migrations table: %v", domain.ErrStore, err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("%w: getting current version: %v", domain.ErrStore, err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: reading migrations: %v", domain.ErrStore, err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("%w: reading migration %s: %v", domain.ErrStore, name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("%w: executing migration %s: %v", domain.ErrStore, name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("%w: recording migration %s: %v", domain.ErrStore, name, err)
		}
	}
	return nil
}

func (s *Store) checkDimension(ctx context.Context) error {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kb_meta WHERE key = 'dimension'").Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if s.dimension <= 0 {
			return nil
		}
		_, err := s.db.ExecContext(ctx, "INSERT INTO kb_meta (key, value) VALUES ('dimension', ?)", strconv.Itoa(s.dimension))
		if err != nil {
			return fmt.Errorf("%w: recording dimension: %v", domain.ErrStore, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: reading dimension: %v", domain.ErrStore, err)
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: corrupt dimension %q", domain.ErrStore, raw)
	}
	if s.dimension > 0 && stored != s.dimension {
		return fmt.Errorf("%w: store holds %d-dimensional embeddings, configured dimension is %d", domain.ErrInvalidConfig, stored, s.dimension)
	}
	s.dimension = stored
	return nil
}

func (s *Store) ExistsByFingerprint(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM documents WHERE content_hash = ?)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: exists_by_fingerprint: %v", domain.ErrStore, err)
	}
	return exists, nil
}

const documentColumns = "id, title, source_path, source_type, raw_content, content_hash, metadata, ingested_at"

func (s *Store) GetDocumentByFingerprint(ctx context.Context, hash string) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE content_hash = ?", hash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document with hash %s: %w", hash, domain.ErrNotFound)
	}
	return doc, err
}

func (s *Store) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return doc, err
}

func scanDocument(row *sql.Row) (domain.Document, error) {
	var (
		doc                           domain.Document
		title, sourcePath, sourceType sql.NullString
		metadata                      sql.NullString
		ingestedAt                    string
	)
	err := row.Scan(&doc.ID, &title, &sourcePath, &sourceType, &doc.RawContent, &doc.ContentHash, &metadata, &ingestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, err
		}
		return doc, fmt.Errorf("%w: scanning document: %v", domain.ErrStore, err)
	}
	doc.Title = title.String
	doc.SourcePath = sourcePath.String
	doc.SourceType = sourceType.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &doc.Metadata); err != nil {
			return doc, fmt.Errorf("%w: corrupt metadata for document %d: %v", domain.ErrStore, doc.ID, err)
		}
	}
	doc.IngestedAt = parseTime(ingestedAt)
	return doc, nil
}

func (s *Store) InsertDocument(ctx context.Context, in domain.NewDocument) (int64, error) {
	var metadata any
	if len(in.Metadata) > 0 {
		data, err := json.Marshal(in.Metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: marshalling metadata: %v", domain.ErrStore, err)
		}
		metadata = string(data)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (title, source_path, source_type, raw_content, content_hash, metadata, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullString(in.Title), nullString(in.SourcePath), nullString(in.SourceType),
		in.RawContent, in.ContentHash, metadata, formatTime(time.Now()),
	)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
			return 0, fmt.Errorf("insert_document: %w", domain.ErrDuplicate)
		}
		return 0, fmt.Errorf("%w: insert_document: %v", domain.ErrStore, err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertChunk(ctx context.Context, in domain.NewChunk) (int64, error) {
	if in.ChunkIndex < 0 || in.ChunkIndex >= in.TotalChunks {
		return 0, fmt.Errorf("%w: chunk index %d out of range for %d chunks", domain.ErrInvalidInput, in.ChunkIndex, in.TotalChunks)
	}
	if len(in.Embedding) > 0 && s.dimension > 0 && len(in.Embedding) != s.dimension {
		return 0, fmt.Errorf("%w: embedding dimension mismatch: expected %d, got %d", domain.ErrInvalidInput, s.dimension, len(in.Embedding))
	}

	var embedding any
	if blob := vector.Encode(in.Embedding); blob != nil {
		embedding = blob
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (document_id, chunk_index, total_chunks, content, content_hash, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.DocumentID, in.ChunkIndex, in.TotalChunks, in.Content, in.ContentHash, embedding, formatTime(time.Now()),
	)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY):
			return 0, fmt.Errorf("insert_chunk: document %d: %w", in.DocumentID, domain.ErrNotFound)
		case isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE):
			return 0, fmt.Errorf("insert_chunk: document %d chunk %d: %w", in.DocumentID, in.ChunkIndex, domain.ErrDuplicate)
		}
		return 0, fmt.Errorf("%w: insert_chunk: %v", domain.ErrStore, err)
	}
	return res.LastInsertId()
}

func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, total_chunks, content, content_hash, embedding, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: get_chunks: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var (
			c         domain.Chunk
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.TotalChunks, &c.Content, &c.ContentHash, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %v", domain.ErrStore, err)
		}
		if c.Embedding, err = vector.Decode(blob); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", domain.ErrStore, c.ID, err)
		}
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: get_chunks: %v", domain.ErrStore, err)
	}
	return chunks, nil
}

// A chunk is searchable only once its document holds all of its chunks.
const similarityQuery = `
	SELECT id, document_id, chunk_index, total_chunks, content, content_hash, created_at,
	       title, source_path, source_type, score
	FROM (
		SELECT c.id, c.document_id, c.chunk_index, c.total_chunks, c.content, c.content_hash, c.created_at,
		       d.title, d.source_path, d.source_type,
		       vec_cosine(c.embedding, ?1) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL
		  AND c.total_chunks = (SELECT COUNT(*) FROM chunks c2 WHERE c2.document_id = c.document_id)
	)
	WHERE ?2 IS NULL OR score >= ?2
	ORDER BY score DESC, id ASC
	LIMIT ?3`

func (s *Store) SimilaritySearch(ctx context.Context, q domain.SearchQuery) ([]domain.SearchHit, error) {
	if q.Limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", domain.ErrInvalidInput)
	}
	if s.dimension > 0 && len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d", domain.ErrInvalidInput, s.dimension, len(q.Vector))
	}

	var minScore any
	if q.MinScore != nil {
		minScore = *q.MinScore
	}

	rows, err := s.db.QueryContext(ctx, similarityQuery, vector.Encode(q.Vector), minScore, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity_search: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var (
			h                             domain.SearchHit
			createdAt                     string
			title, sourcePath, sourceType sql.NullString
		)
		err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.TotalChunks, &h.Content, &h.ContentHash, &createdAt,
			&title, &sourcePath, &sourceType, &h.SimilarityScore)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning hit: %v", domain.ErrStore, err)
		}
		h.CreatedAt = parseTime(createdAt)
		h.Title = title.String
		h.SourcePath = sourcePath.String
		h.SourceType = sourceType.String
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: similarity_search: %v", domain.ErrStore, err)
	}
	return hits, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: delete_document: %v", domain.ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete_document: %v", domain.ErrStore, err)
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Drop(ctx context.Context) error {
	for _, stmt := range []string{"DELETE FROM chunks", "DELETE FROM documents"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: drop: %v", domain.ErrStore, err)
		}
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.QueryRowContext(ctx, "SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)").
		Scan(&stats.Documents, &stats.Chunks)
	if err != nil {
		return stats, fmt.Errorf("%w: stats: %v", domain.ErrStore, err)
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isConstraint matches the extended result code, falling back to the
// primary code plus message for connections without extended codes.
func isConstraint(err error, code int) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code() == code {
		return true
	}
	if sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	msg := sqliteErr.Error()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return strings.Contains(msg, "UNIQUE")
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return strings.Contains(msg, "FOREIGN KEY")
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
