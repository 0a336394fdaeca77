package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"kb/internal/adapter/vector"
	"kb/internal/domain"
	"kb/internal/port"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketVectors   = []byte("vectors")
	bucketDocChunks = []byte("doc_chunks")
	bucketHashes    = []byte("hashes")
	bucketMeta      = []byte("meta")

	dataBuckets = [][]byte{bucketDocs, bucketChunks, bucketVectors, bucketDocChunks, bucketHashes}
)

// BoltStore is a DocumentStore backed by a single bbolt file.
//
// Every insert runs in its own write transaction. A document's chunks become
// visible to SimilaritySearch once all total_chunks of them are stored.
type BoltStore struct {
	db        *bbolt.DB
	dimension int
}

var _ port.DocumentStore = (*BoltStore)(nil)

// NewBoltStore opens (creating if needed) the store at path. A positive
// dimension is recorded on first use and enforced on every later open.
func NewBoltStore(path string, dimension int) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create store directory: %v", domain.ErrStore, err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open bolt db: %v", domain.ErrStore, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range append(dataBuckets, bucketMeta) {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}

	s := &BoltStore{db: db, dimension: dimension}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Dimension returns the embedding dimension enforced by the store, or zero
// when none has been recorded yet.
func (s *BoltStore) Dimension() int {
	return s.dimension
}

type storedDoc struct {
	Title       string         `json:"title,omitempty"`
	SourcePath  string         `json:"source_path,omitempty"`
	SourceType  string         `json:"source_type,omitempty"`
	RawContent  string         `json:"raw_content"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IngestedAt  time.Time      `json:"ingested_at"`
}

type storedChunk struct {
	DocumentID  int64     `json:"document_id"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// docChunkKey orders a document's chunks by index under its id prefix.
func docChunkKey(docID int64, index int) []byte {
	return append(itob(docID), itob(int64(index))...)
}

func (s *BoltStore) ExistsByFingerprint(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketHashes).Get([]byte(hash)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: exists_by_fingerprint: %v", domain.ErrStore, err)
	}
	return exists, nil
}

func (s *BoltStore) GetDocumentByFingerprint(ctx context.Context, hash string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		idData := tx.Bucket(bucketHashes).Get([]byte(hash))
		if idData == nil {
			return fmt.Errorf("document with hash %s: %w", shortHash(hash), domain.ErrNotFound)
		}
		var err error
		doc, err = getDoc(tx, btoi(idData))
		return err
	})
	return doc, err
}

func (s *BoltStore) InsertDocument(ctx context.Context, in domain.NewDocument) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		hashes := tx.Bucket(bucketHashes)
		if hashes.Get([]byte(in.ContentHash)) != nil {
			return fmt.Errorf("insert_document %s: %w", shortHash(in.ContentHash), domain.ErrDuplicate)
		}

		docs := tx.Bucket(bucketDocs)
		seq, err := docs.NextSequence()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStore, err)
		}
		id = int64(seq)

		data, err := json.Marshal(storedDoc{
			Title:       in.Title,
			SourcePath:  in.SourcePath,
			SourceType:  in.SourceType,
			RawContent:  in.RawContent,
			ContentHash: in.ContentHash,
			Metadata:    in.Metadata,
			IngestedAt:  time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to encode document: %v", domain.ErrStore, err)
		}
		if err := docs.Put(itob(id), data); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStore, err)
		}
		if err := hashes.Put([]byte(in.ContentHash), itob(id)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStore, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *BoltStore) InsertChunk(ctx context.Context, in domain.NewChunk) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if in.ChunkIndex < 0 || in.ChunkIndex >= in.TotalChunks {
		return 0, fmt.Errorf("%w: chunk index %d out of range for %d chunks", domain.ErrInvalidInput, in.ChunkIndex, in.TotalChunks)
	}
	if len(in.Embedding) > 0 && s.dimension > 0 && len(in.Embedding) != s.dimension {
		return 0, fmt.Errorf("%w: embedding dimension mismatch: expected %d, got %d", domain.ErrInvalidInput, s.dimension, len(in.Embedding))
	}

	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketDocs).Get(itob(in.DocumentID)) == nil {
			return fmt.Errorf("insert_chunk: document %d: %w", in.DocumentID, domain.ErrNotFound)
		}

		docChunks := tx.Bucket(bucketDocChunks)
		key := docChunkKey(in.DocumentID, in.ChunkIndex)
		if docChunks.Get(key) != nil {
			return fmt.Errorf("insert_chunk: document %d chunk %d: %w", in.DocumentID, in.ChunkIndex, domain.ErrDuplicate)
		}

		chunks := tx.Bucket(bucketChunks)
		seq, err := chunks.NextSequence()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStore, err)
		}
		id = int64(seq)

		data, err := json.Marshal(storedChunk{
			DocumentID:  in.DocumentID,
			ChunkIndex:  in.ChunkIndex,
			TotalChunks: in.TotalChunks,
			Content:     in.Content,
			ContentHash: in.ContentHash,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to encode chunk: %v", domain.ErrStore, err)
		}
		if err := chunks.Put(itob(id), data); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStore, err)
		}
		if blob := vector.Encode(in.Embedding); blob != nil {
			if err := tx.Bucket(bucketVectors).Put(itob(id), blob); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrStore, err)
			}
		}
		return docChunks.Put(key, itob(id))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *BoltStore) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = getDoc(tx, id)
		return err
	})
	return doc, err
}

func getDoc(tx *bbolt.Tx, id int64) (domain.Document, error) {
	data := tx.Bucket(bucketDocs).Get(itob(id))
	if data == nil {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	var sd storedDoc
	if err := json.Unmarshal(data, &sd); err != nil {
		return domain.Document{}, fmt.Errorf("%w: corrupt document %d: %v", domain.ErrStore, id, err)
	}
	return domain.Document{
		ID:          id,
		Title:       sd.Title,
		SourcePath:  sd.SourcePath,
		SourceType:  sd.SourceType,
		RawContent:  sd.RawContent,
		ContentHash: sd.ContentHash,
		Metadata:    sd.Metadata,
		IngestedAt:  sd.IngestedAt,
	}, nil
}

func (s *BoltStore) GetChunks(ctx context.Context, documentID int64) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		chunkBucket := tx.Bucket(bucketChunks)
		vectorBucket := tx.Bucket(bucketVectors)

		prefix := itob(documentID)
		c := tx.Bucket(bucketDocChunks).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			chunk, err := getChunk(chunkBucket, vectorBucket, btoi(v))
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

func getChunk(chunkBucket, vectorBucket *bbolt.Bucket, id int64) (domain.Chunk, error) {
	data := chunkBucket.Get(itob(id))
	if data == nil {
		return domain.Chunk{}, fmt.Errorf("chunk %d: %w", id, domain.ErrNotFound)
	}
	var sc storedChunk
	if err := json.Unmarshal(data, &sc); err != nil {
		return domain.Chunk{}, fmt.Errorf("%w: corrupt chunk %d: %v", domain.ErrStore, id, err)
	}
	emb, err := vector.Decode(vectorBucket.Get(itob(id)))
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("%w: chunk %d: %v", domain.ErrStore, id, err)
	}
	return domain.Chunk{
		ID:          id,
		DocumentID:  sc.DocumentID,
		ChunkIndex:  sc.ChunkIndex,
		TotalChunks: sc.TotalChunks,
		Content:     sc.Content,
		ContentHash: sc.ContentHash,
		Embedding:   emb,
		CreatedAt:   sc.CreatedAt,
	}, nil
}

// SimilaritySearch scans every stored vector (exact search). Chunks of
// documents still being written are skipped.
func (s *BoltStore) SimilaritySearch(ctx context.Context, q domain.SearchQuery) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", domain.ErrInvalidInput)
	}
	if s.dimension > 0 && len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d", domain.ErrInvalidInput, s.dimension, len(q.Vector))
	}

	var hits []domain.SearchHit
	err := s.db.View(func(tx *bbolt.Tx) error {
		stored := make(map[int64]int)
		err := tx.Bucket(bucketDocChunks).ForEach(func(k, _ []byte) error {
			stored[btoi(k[:8])]++
			return nil
		})
		if err != nil {
			return err
		}

		chunkBucket := tx.Bucket(bucketChunks)
		err = tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var sc storedChunk
			if err := json.Unmarshal(chunkBucket.Get(k), &sc); err != nil {
				return nil // skip corrupted entries
			}
			if stored[sc.DocumentID] != sc.TotalChunks {
				return nil
			}
			emb, err := vector.Decode(v)
			if err != nil {
				return nil
			}
			score := vector.Cosine(q.Vector, emb)
			if q.MinScore != nil && score < *q.MinScore {
				return nil
			}
			hits = append(hits, domain.SearchHit{
				ChunkID:         btoi(k),
				DocumentID:      sc.DocumentID,
				ChunkIndex:      sc.ChunkIndex,
				TotalChunks:     sc.TotalChunks,
				Content:         sc.Content,
				ContentHash:     sc.ContentHash,
				CreatedAt:       sc.CreatedAt,
				SimilarityScore: score,
			})
			return nil
		})
		if err != nil {
			return err
		}

		hits = vector.Rank(hits, q.Limit)
		for i := range hits {
			doc, err := getDoc(tx, hits[i].DocumentID)
			if err != nil {
				return err
			}
			hits[i].Title = doc.Title
			hits[i].SourcePath = doc.SourcePath
			hits[i].SourceType = doc.SourceType
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("similarity_search: %w", err)
	}
	return hits, nil
}

func (s *BoltStore) DeleteDocument(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := getDoc(tx, id)
		if err != nil {
			return err
		}

		chunkBucket := tx.Bucket(bucketChunks)
		vectorBucket := tx.Bucket(bucketVectors)
		docChunks := tx.Bucket(bucketDocChunks)

		var keys [][]byte
		prefix := itob(id)
		c := docChunks.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
			if err := chunkBucket.Delete(v); err != nil {
				return err
			}
			if err := vectorBucket.Delete(v); err != nil {
				return err
			}
		}
		for _, k := range keys {
			if err := docChunks.Delete(k); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketHashes).Delete([]byte(doc.ContentHash)); err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Delete(itob(id))
	})
}

// Drop empties every data bucket. Schema info survives.
func (s *BoltStore) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range dataBuckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: drop: %v", domain.ErrStore, err)
	}
	return nil
}

func (s *BoltStore) Stats(ctx context.Context) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, err
	}
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.Documents = tx.Bucket(bucketDocs).Stats().KeyN
		stats.Chunks = tx.Bucket(bucketChunks).Stats().KeyN
		return nil
	})
	return stats, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
