package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"kb/internal/adapter/vector"
	"kb/internal/domain"
	"kb/internal/port"
)

// MemoryStore is a process-local DocumentStore. Nothing survives Close.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[int64]domain.Document
	chunks      map[int64]domain.Chunk
	docChunks   map[int64]map[int]int64
	hashes      map[string]int64
	nextDocID   int64
	nextChunkID int64
}

var _ port.DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.docs = make(map[int64]domain.Document)
	s.chunks = make(map[int64]domain.Chunk)
	s.docChunks = make(map[int64]map[int]int64)
	s.hashes = make(map[string]int64)
}

func (s *MemoryStore) ExistsByFingerprint(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashes[hash]
	return ok, nil
}

func (s *MemoryStore) GetDocumentByFingerprint(ctx context.Context, hash string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.hashes[hash]
	if !ok {
		return domain.Document{}, fmt.Errorf("document with hash %s: %w", hash, domain.ErrNotFound)
	}
	return cloneDocument(s.docs[id]), nil
}

func (s *MemoryStore) InsertDocument(ctx context.Context, in domain.NewDocument) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[in.ContentHash]; ok {
		return 0, fmt.Errorf("insert_document: %w", domain.ErrDuplicate)
	}

	s.nextDocID++
	id := s.nextDocID
	s.docs[id] = domain.Document{
		ID:          id,
		Title:       in.Title,
		SourcePath:  in.SourcePath,
		SourceType:  in.SourceType,
		RawContent:  in.RawContent,
		ContentHash: in.ContentHash,
		Metadata:    maps.Clone(in.Metadata),
		IngestedAt:  time.Now().UTC(),
	}
	s.hashes[in.ContentHash] = id
	return id, nil
}

func (s *MemoryStore) InsertChunk(ctx context.Context, in domain.NewChunk) (int64, error) {
	if in.ChunkIndex < 0 || in.ChunkIndex >= in.TotalChunks {
		return 0, fmt.Errorf("%w: chunk index %d out of range for %d chunks", domain.ErrInvalidInput, in.ChunkIndex, in.TotalChunks)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[in.DocumentID]; !ok {
		return 0, fmt.Errorf("insert_chunk: document %d: %w", in.DocumentID, domain.ErrNotFound)
	}
	byIndex := s.docChunks[in.DocumentID]
	if byIndex == nil {
		byIndex = make(map[int]int64)
		s.docChunks[in.DocumentID] = byIndex
	}
	if _, ok := byIndex[in.ChunkIndex]; ok {
		return 0, fmt.Errorf("insert_chunk: document %d chunk %d: %w", in.DocumentID, in.ChunkIndex, domain.ErrDuplicate)
	}

	s.nextChunkID++
	id := s.nextChunkID
	s.chunks[id] = domain.Chunk{
		ID:          id,
		DocumentID:  in.DocumentID,
		ChunkIndex:  in.ChunkIndex,
		TotalChunks: in.TotalChunks,
		Content:     in.Content,
		ContentHash: in.ContentHash,
		Embedding:   slices.Clone(in.Embedding),
		CreatedAt:   time.Now().UTC(),
	}
	byIndex[in.ChunkIndex] = id
	return id, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) GetChunks(ctx context.Context, documentID int64) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byIndex := s.docChunks[documentID]
	indexes := slices.Sorted(maps.Keys(byIndex))
	chunks := make([]domain.Chunk, 0, len(indexes))
	for _, i := range indexes {
		c := s.chunks[byIndex[i]]
		c.Embedding = slices.Clone(c.Embedding)
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// cloneDocument copies the metadata map so callers cannot mutate stored state.
func cloneDocument(doc domain.Document) domain.Document {
	doc.Metadata = maps.Clone(doc.Metadata)
	return doc
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, q domain.SearchQuery) ([]domain.SearchHit, error) {
	if q.Limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []domain.SearchHit
	for id, c := range s.chunks {
		if len(c.Embedding) == 0 || len(s.docChunks[c.DocumentID]) != c.TotalChunks {
			continue
		}
		score := vector.Cosine(q.Vector, c.Embedding)
		if q.MinScore != nil && score < *q.MinScore {
			continue
		}
		doc := s.docs[c.DocumentID]
		hits = append(hits, domain.SearchHit{
			ChunkID:         id,
			DocumentID:      c.DocumentID,
			ChunkIndex:      c.ChunkIndex,
			TotalChunks:     c.TotalChunks,
			Content:         c.Content,
			ContentHash:     c.ContentHash,
			CreatedAt:       c.CreatedAt,
			Title:           doc.Title,
			SourcePath:      doc.SourcePath,
			SourceType:      doc.SourceType,
			SimilarityScore: score,
		})
	}
	return vector.Rank(hits, q.Limit), nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	for _, chunkID := range s.docChunks[id] {
		delete(s.chunks, chunkID)
	}
	delete(s.docChunks, id)
	delete(s.hashes, doc.ContentHash)
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Stats{Documents: len(s.docs), Chunks: len(s.chunks)}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
