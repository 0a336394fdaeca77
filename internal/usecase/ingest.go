package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"kb/internal/domain"
	applog "kb/internal/logger"
	"kb/internal/port"
)

// IngestUseCase turns raw text into a deduplicated, chunked and embedded
// document. It holds no mutable state and is safe for concurrent use.
type IngestUseCase struct {
	store    port.DocumentStore
	embedder port.EmbeddingGateway
	chunker  port.Chunker
	hasher   port.Hasher
	walker   port.FileWalker
	reader   port.FileReader
	logger   *slog.Logger
}

// NewIngestUseCase creates a new ingest use case. walker and reader are only
// needed by IngestFile and IngestDir; a nil logger discards output.
func NewIngestUseCase(
	store port.DocumentStore,
	embedder port.EmbeddingGateway,
	chunker port.Chunker,
	hasher port.Hasher,
	walker port.FileWalker,
	reader port.FileReader,
	logger *slog.Logger,
) *IngestUseCase {
	if logger == nil {
		logger = applog.Discard()
	}
	return &IngestUseCase{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		hasher:   hasher,
		walker:   walker,
		reader:   reader,
		logger:   logger,
	}
}

// IngestRaw ingests text that did not come from a file.
func (u *IngestUseCase) IngestRaw(ctx context.Context, text, title, sourcePath, sourceType string) (domain.IngestResult, error) {
	return u.Ingest(ctx, text, title, sourcePath, sourceType, nil)
}

// Ingest stores rawText as a document unless identical content is already
// present, in which case the existing document is reported as a duplicate.
//
// The document row is written only after chunking succeeds, and is removed
// again if embedding or chunk persistence fails, so a failed ingest leaves
// nothing behind.
func (u *IngestUseCase) Ingest(ctx context.Context, rawText, title, sourcePath, sourceType string, metadata map[string]any) (domain.IngestResult, error) {
	p, dup, err := u.prepare(ctx, domain.NewDocument{
		Title:      title,
		SourcePath: sourcePath,
		SourceType: sourceType,
		RawContent: rawText,
		Metadata:   metadata,
	})
	if err != nil || dup != nil {
		return derefResult(dup), err
	}

	docID, dup, err := u.insertDocument(ctx, p)
	if err != nil || dup != nil {
		return derefResult(dup), err
	}

	vectors, err := u.embedder.EmbedDocumentChunks(ctx, p.chunks)
	if err != nil {
		err = fmt.Errorf("ingest document %d: embedding %d chunks: %w", docID, len(p.chunks), err)
		u.rollback(ctx, p.log, docID)
		return domain.IngestResult{}, err
	}
	return u.storeChunks(ctx, p, docID, vectors)
}

// pendingDocument is a deduplicated, chunked document not yet written.
type pendingDocument struct {
	doc    domain.NewDocument
	chunks []string
	log    *slog.Logger
}

// prepare validates and fingerprints the text, checks for an existing copy
// and chunks it. A non-nil result means the content is already stored.
func (u *IngestUseCase) prepare(ctx context.Context, doc domain.NewDocument) (pendingDocument, *domain.IngestResult, error) {
	if !utf8.ValidString(doc.RawContent) {
		return pendingDocument{}, nil, fmt.Errorf("ingest %q: %w: text is not valid UTF-8", doc.Title, domain.ErrInvalidInput)
	}

	doc.ContentHash = u.hasher.Fingerprint(doc.RawContent)
	log := u.logger.With("hash", shortHash(doc.ContentHash))

	exists, err := u.store.ExistsByFingerprint(ctx, doc.ContentHash)
	if err != nil {
		return pendingDocument{}, nil, fmt.Errorf("ingest: checking fingerprint: %w", err)
	}
	if exists {
		res, err := u.duplicate(ctx, log, doc.ContentHash)
		return pendingDocument{}, &res, err
	}

	chunks := u.chunker.Chunk(doc.RawContent)
	if len(chunks) == 0 {
		return pendingDocument{}, nil, fmt.Errorf("ingest %q: %w", doc.Title, domain.ErrNoContent)
	}
	return pendingDocument{doc: doc, chunks: chunks, log: log}, nil, nil
}

// insertDocument writes the document row. Losing a race with a concurrent
// ingest of the same content yields the winner as a duplicate result.
func (u *IngestUseCase) insertDocument(ctx context.Context, p pendingDocument) (int64, *domain.IngestResult, error) {
	docID, err := u.store.InsertDocument(ctx, p.doc)
	if errors.Is(err, domain.ErrDuplicate) {
		res, err := u.duplicate(ctx, p.log, p.doc.ContentHash)
		return 0, &res, err
	}
	if err != nil {
		return 0, nil, fmt.Errorf("ingest: inserting document: %w", err)
	}
	return docID, nil, nil
}

// storeChunks persists the chunks of docID with their vectors, rolling the
// document back on any failure.
func (u *IngestUseCase) storeChunks(ctx context.Context, p pendingDocument, docID int64, vectors [][]float32) (domain.IngestResult, error) {
	log := p.log.With("document_id", docID)
	if len(vectors) != len(p.chunks) {
		u.rollback(ctx, log, docID)
		return domain.IngestResult{}, fmt.Errorf("ingest document %d: %w: %d chunks, %d vectors", docID, domain.ErrEmbeddingCountMismatch, len(p.chunks), len(vectors))
	}

	for i, text := range p.chunks {
		_, err := u.store.InsertChunk(ctx, domain.NewChunk{
			DocumentID:  docID,
			ChunkIndex:  i,
			TotalChunks: len(p.chunks),
			Content:     text,
			ContentHash: u.hasher.Fingerprint(text),
			Embedding:   vectors[i],
		})
		if err != nil {
			u.rollback(ctx, log, docID)
			return domain.IngestResult{}, fmt.Errorf("ingest document %d: inserting chunk %d/%d: %w", docID, i+1, len(p.chunks), err)
		}
	}

	log.Info("ingested document", "title", p.doc.Title, "chunks", len(p.chunks))
	return domain.IngestResult{DocumentID: docID, ChunksInserted: len(p.chunks)}, nil
}

func (u *IngestUseCase) rollback(ctx context.Context, log *slog.Logger, docID int64) {
	if err := u.store.DeleteDocument(context.WithoutCancel(ctx), docID); err != nil {
		log.Error("failed to roll back document", "document_id", docID, "error", err)
	}
}

func (u *IngestUseCase) duplicate(ctx context.Context, log *slog.Logger, hash string) (domain.IngestResult, error) {
	existing, err := u.store.GetDocumentByFingerprint(ctx, hash)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("ingest: fetching existing document: %w", err)
	}
	log.Info("document already exists, skipping", "document_id", existing.ID)
	return domain.IngestResult{DocumentID: existing.ID, WasDuplicate: true}, nil
}

func derefResult(r *domain.IngestResult) domain.IngestResult {
	if r == nil {
		return domain.IngestResult{}
	}
	return *r
}

// IngestFile reads a .txt, .md or .pdf file and ingests it.
func (u *IngestUseCase) IngestFile(ctx context.Context, path string) (domain.IngestResult, error) {
	if u.reader == nil {
		return domain.IngestResult{}, fmt.Errorf("ingest %s: no file reader configured", path)
	}
	file, err := u.reader.ReadDocument(path)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("ingest: reading %s: %w", path, err)
	}
	return u.Ingest(ctx, file.RawContent, file.Title, file.SourcePath, file.SourceType, file.Metadata)
}

// DirResult summarises a directory ingest.
type DirResult struct {
	Ingested       int      `json:"ingested"`
	Duplicates     int      `json:"duplicates"`
	Failed         int      `json:"failed"`
	ChunksInserted int      `json:"chunks_inserted"`
	Errors         []string `json:"errors,omitempty"`
}

// ProgressFunc is called after each file with the number of files handled
// so far and the total.
type ProgressFunc func(done, total int)

// DirBatchSize is the number of files whose chunks IngestDir embeds in one
// EmbedDocuments round-trip.
const DirBatchSize = 8

// IngestDir ingests every matching file under root. A failing file is
// recorded in the result and does not stop the walk; only a walk failure or
// context cancellation aborts.
//
// Files are embedded in batches of DirBatchSize through EmbedDocuments, each
// document keeping its own chunk group. When a batch call fails, its
// documents are embedded one by one so a single bad file cannot sink the rest.
func (u *IngestUseCase) IngestDir(ctx context.Context, root string, progress ProgressFunc) (*DirResult, error) {
	if u.walker == nil || u.reader == nil {
		return nil, fmt.Errorf("ingest %s: no file walker or reader configured", root)
	}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	u.logger.Info("ingesting directory", "root", root, "files", len(files))

	b := &dirBatch{result: &DirResult{}, total: len(files), progress: progress, logger: u.logger}
	for start := 0; start < len(files); start += DirBatchSize {
		end := min(start+DirBatchSize, len(files))
		if err := u.ingestBatch(ctx, files[start:end], b); err != nil {
			return b.result, err
		}
	}
	return b.result, nil
}

// dirBatch accumulates per-file outcomes and drives the progress callback.
type dirBatch struct {
	result   *DirResult
	done     int
	total    int
	progress ProgressFunc
	logger   *slog.Logger
}

func (b *dirBatch) record(path string, res domain.IngestResult, err error) {
	switch {
	case err != nil:
		b.result.Failed++
		b.result.Errors = append(b.result.Errors, fmt.Sprintf("%s: %v", path, err))
		b.logger.Warn("failed to ingest file", "path", path, "error", err)
	case res.WasDuplicate:
		b.result.Duplicates++
	default:
		b.result.Ingested++
		b.result.ChunksInserted += res.ChunksInserted
	}

	b.done++
	if b.progress != nil {
		b.progress(b.done, b.total)
	}
}

func (u *IngestUseCase) ingestBatch(ctx context.Context, files []port.FileInfo, b *dirBatch) error {
	var (
		pending []pendingDocument
		paths   []string
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		in, err := u.reader.ReadDocument(file.Path)
		if err != nil {
			b.record(file.Path, domain.IngestResult{}, fmt.Errorf("ingest: reading %s: %w", file.Path, err))
			continue
		}
		p, dup, err := u.prepare(ctx, domain.NewDocument{
			Title:      in.Title,
			SourcePath: in.SourcePath,
			SourceType: in.SourceType,
			RawContent: in.RawContent,
			Metadata:   in.Metadata,
		})
		if err != nil || dup != nil {
			b.record(file.Path, derefResult(dup), err)
			continue
		}
		pending = append(pending, p)
		paths = append(paths, file.Path)
	}
	if len(pending) == 0 {
		return nil
	}

	groups := make([][]string, len(pending))
	for i, p := range pending {
		groups[i] = p.chunks
	}
	vectors, err := u.embedder.EmbedDocuments(ctx, groups)
	if err == nil && len(vectors) != len(pending) {
		err = fmt.Errorf("%w: %d documents, %d vector groups", domain.ErrEmbeddingCountMismatch, len(pending), len(vectors))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		u.logger.Warn("batch embedding failed, embedding documents individually", "documents", len(pending), "error", err)
		vectors = nil
	}

	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		docID, dup, err := u.insertDocument(ctx, p)
		if err != nil || dup != nil {
			b.record(paths[i], derefResult(dup), err)
			continue
		}

		var vecs [][]float32
		if vectors != nil {
			vecs = vectors[i]
		} else if vecs, err = u.embedder.EmbedDocumentChunks(ctx, p.chunks); err != nil {
			u.rollback(ctx, p.log, docID)
			b.record(paths[i], domain.IngestResult{}, fmt.Errorf("ingest document %d: embedding %d chunks: %w", docID, len(p.chunks), err))
			continue
		}

		res, err := u.storeChunks(ctx, p, docID, vecs)
		b.record(paths[i], res, err)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
