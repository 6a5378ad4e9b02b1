package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ignite/convoflow/internal/domain"
)

var bucketExecutions = []byte("executions")

// BoltStore keeps snapshots in a local bbolt file, for single-node
// deployments without a database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating bolt directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	s, err := NewBoltStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewBoltStore uses an already open database.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketExecutions)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executions bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).Put([]byte(snap.ID), data)
	})
}

func (s *BoltStore) ListActive(_ context.Context) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(_, v []byte) error {
			var snap domain.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return nil
			}
			if snap.IsActive() {
				out = append(out, snap)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSnapshots(out)
	return out, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).Delete([]byte(id))
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
