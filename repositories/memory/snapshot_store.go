// Package memory provides an in-process SnapshotStore. It keeps generations
// only for the lifetime of the process and is meant for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories"
)

type generation struct {
	marker    int64
	createdAt time.Time
	payload   []byte
}

// SnapshotStore keeps serialized generations in memory
type SnapshotStore struct {
	mu          sync.RWMutex
	generations []generation
	clock       *repositories.GenerationClock
}

// NewSnapshotStore creates an empty store. A nil now uses time.Now.
func NewSnapshotStore(now func() time.Time) *SnapshotStore {
	return &SnapshotStore{clock: repositories.NewGenerationClock(now)}
}

// Store serializes the snapshot into a new generation
func (s *SnapshotStore) Store(ctx context.Context, snapshot models.Snapshot) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	payload, err := repositories.EncodeSnapshot(snapshot)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marker := s.clock.Next()
	s.generations = append(s.generations, generation{
		marker:    marker,
		createdAt: s.clock.Now(),
		payload:   payload,
	})
	return marker, nil
}

// Load returns the newest generation
func (s *SnapshotStore) Load(ctx context.Context) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.generations) == 0 {
		return nil, repositories.ErrNoSnapshot
	}
	return repositories.DecodeSnapshot(s.generations[len(s.generations)-1].payload)
}

// PurgeOlderThan drops generations created more than age ago
func (s *SnapshotStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.generations[:0]
	removed := 0
	for _, g := range s.generations {
		if g.createdAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, g)
	}
	s.generations = kept
	return removed, nil
}

// Generations returns the stored markers in ascending order
func (s *SnapshotStore) Generations() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markers := make([]int64, 0, len(s.generations))
	for _, g := range s.generations {
		markers = append(markers, g.marker)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })
	return markers
}
