package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"kb/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyDimension     = []byte("dimension")
)

// SchemaInfo stores the schema version and the embedding dimension the
// store was created with.
type SchemaInfo struct {
	Version   int `json:"version"`
	Dimension int `json:"dimension"`
}

// GetSchemaInfo retrieves the current schema info from the database.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}

		if data := b.Get(keySchemaVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				return fmt.Errorf("corrupt schema version: %w", err)
			}
		}
		if data := b.Get(keyDimension); data != nil {
			if err := json.Unmarshal(data, &info.Dimension); err != nil {
				return fmt.Errorf("corrupt dimension: %w", err)
			}
		}
		return nil
	})
	return &info, err
}

// SetSchemaInfo stores the schema info in the database.
func (s *BoltStore) SetSchemaInfo(info *SchemaInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := b.Put(keySchemaVersion, versionData); err != nil {
			return err
		}

		dimData, err := json.Marshal(info.Dimension)
		if err != nil {
			return err
		}
		return b.Put(keyDimension, dimData)
	})
}

// Migrate brings the schema up to CurrentSchemaVersion and reconciles the
// configured embedding dimension with the recorded one. A store written by
// a newer version, or with a different dimension, is refused.
func (s *BoltStore) Migrate() error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return fmt.Errorf("%w: failed to get schema info: %v", domain.ErrStore, err)
	}

	if info.Version > CurrentSchemaVersion {
		return fmt.Errorf("%w: database created by newer version (v%d > v%d)", domain.ErrStore, info.Version, CurrentSchemaVersion)
	}

	switch {
	case info.Dimension == 0:
		info.Dimension = s.dimension
	case s.dimension == 0:
		s.dimension = info.Dimension
	case s.dimension != info.Dimension:
		return fmt.Errorf("%w: store holds %d-dimensional embeddings, configured dimension is %d", domain.ErrInvalidConfig, info.Dimension, s.dimension)
	}

	// v1 is the first schema and its buckets are created on open, so an
	// unversioned store only needs the version recorded.
	info.Version = CurrentSchemaVersion
	if err := s.SetSchemaInfo(info); err != nil {
		return fmt.Errorf("%w: failed to record schema info: %v", domain.ErrStore, err)
	}
	return nil
}
