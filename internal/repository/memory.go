package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

type storedSnapshot struct {
	version  uint64
	status   state.GameStatus
	checksum string
	data     []byte
}

// MemorySnapshotRepository keeps snapshots in process, encoded the same way
// the Postgres repository stores them.
type MemorySnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[string]storedSnapshot
}

// NewMemorySnapshotRepository creates an empty repository.
func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{snapshots: make(map[string]storedSnapshot)}
}

// Save stores s unless a newer version is already stored.
func (r *MemorySnapshotRepository) Save(_ context.Context, s *state.GameState) error {
	data, err := game.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	checksum, err := game.ComputeChecksum(s)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.snapshots[s.ID]; ok && existing.version >= s.Version {
		return fmt.Errorf("%w: game %s version %d", ErrStaleSnapshot, s.ID, s.Version)
	}
	r.snapshots[s.ID] = storedSnapshot{version: s.Version, status: s.Status, checksum: checksum.Hash, data: data}
	return nil
}

// Load returns the latest stored snapshot of gameID.
func (r *MemorySnapshotRepository) Load(_ context.Context, gameID string) (*state.GameState, error) {
	r.mu.RLock()
	stored, ok := r.snapshots[gameID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrGameNotFound, gameID)
	}
	return decodeSnapshot(gameID, stored.data, stored.checksum)
}

// ListActive returns the ids of games that have not completed.
func (r *MemorySnapshotRepository) ListActive(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, stored := range r.snapshots {
		if stored.status != state.StatusCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
