package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore fails Load a fixed number of times before delegating
type flakyStore struct {
	*memory.SnapshotStore
	failures int
	calls    int
}

func (f *flakyStore) Load(ctx context.Context) (models.Snapshot, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return f.SnapshotStore.Load(ctx)
}

func TestRestore_RoundTrip(t *testing.T) {
	store := memory.NewSnapshotStore(nil)
	original := NewRegistry(nil)
	original.Add("h1", identityExpiringAt("alice", baseTime.Add(time.Hour)))
	original.Add("h2", identityExpiringAt("bob", baseTime.Add(2*time.Hour)))

	_, err := store.Store(context.Background(), original.Snapshot())
	require.NoError(t, err)

	restored := NewRegistry(nil)
	n, err := Restore(context.Background(), restored, store, 1, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok := restored.Get("h2")
	require.True(t, ok)
	assert.Equal(t, "bob", got.Subject)
	assert.True(t, got.ExpiresAt.Equal(baseTime.Add(2*time.Hour)))
}

func TestRestore_EmptyStore(t *testing.T) {
	registry := NewRegistry(nil)
	n, err := Restore(context.Background(), registry, memory.NewSnapshotStore(nil), 3, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRestore_NilStore(t *testing.T) {
	n, err := Restore(context.Background(), NewRegistry(nil), nil, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRestore_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{SnapshotStore: memory.NewSnapshotStore(nil), failures: 2}
	_, err := store.Store(context.Background(), models.Snapshot{
		"h1": identityExpiringAt("alice", baseTime.Add(time.Hour)),
	})
	require.NoError(t, err)

	registry := NewRegistry(nil)
	n, err := Restore(context.Background(), registry, store, 5, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, store.calls)
}

func TestRestore_GivesUp(t *testing.T) {
	store := &flakyStore{SnapshotStore: memory.NewSnapshotStore(nil), failures: 100}
	registry := NewRegistry(nil)
	registry.Add("keep", identityExpiringAt("k", baseTime.Add(time.Hour)))

	_, err := Restore(context.Background(), registry, store, 2, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 1, registry.Len())
}
