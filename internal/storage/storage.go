// Package storage persists execution snapshots for crash recovery and
// archives the transcripts of finished campaigns.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/repository/postgres"
)

// Store is a snapshot backend.
type Store interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	ListActive(ctx context.Context) ([]domain.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Open returns the backend selected by cfg.Type. db is required for the
// postgres backend only.
func Open(ctx context.Context, cfg config.StorageConfig, db *sql.DB) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("storage: postgres backend needs a database connection")
		}
		return postgres.NewExecutionRepo(db), nil
	case "dynamodb":
		clients, err := NewAWSClients(ctx, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, err
		}
		return NewDynamoStore(clients.DynamoDB, cfg.DynamoDBTable), nil
	case "bolt":
		return OpenBolt(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// MemoryStore keeps snapshots in process. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]domain.Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]domain.Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap domain.Snapshot) error {
	snap.Payload = append([]byte(nil), snap.Payload...)
	s.mu.Lock()
	s.snaps[snap.ID] = snap
	s.mu.Unlock()
	return nil
}

// ListActive returns the snapshots not yet completed, least recently
// updated first.
func (s *MemoryStore) ListActive(_ context.Context) ([]domain.Snapshot, error) {
	s.mu.RLock()
	out := make([]domain.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		if snap.IsActive() {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()
	sortSnapshots(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.snaps, id)
	s.mu.Unlock()
	return nil
}

// Get returns one snapshot, active or not.
func (s *MemoryStore) Get(id string) (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	return snap, ok
}

func sortSnapshots(snaps []domain.Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].UpdatedAt.Equal(snaps[j].UpdatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].UpdatedAt.Before(snaps[j].UpdatedAt)
	})
}
