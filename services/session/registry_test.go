package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rl337/authface/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func identityExpiringAt(sub string, expiresAt time.Time) *models.Identity {
	return &models.Identity{
		Subject:   sub,
		Email:     models.StringPtr(sub + "@example.com"),
		Provider:  "google",
		Tier:      models.TierNormal,
		CreatedAt: expiresAt.Add(-7 * 24 * time.Hour),
		ExpiresAt: expiresAt,
	}
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry(fixedClock(baseTime))

	_, ok := r.Get("missing")
	assert.False(t, ok)

	id := identityExpiringAt("alice", baseTime.Add(time.Hour))
	r.Add("h1", id)

	got, ok := r.Get("h1")
	require.True(t, ok)
	assert.Same(t, id, got)
	assert.Equal(t, 1, r.Len())

	replacement := identityExpiringAt("bob", baseTime.Add(time.Hour))
	r.Add("h1", replacement)
	got, _ = r.Get("h1")
	assert.Equal(t, "bob", got.Subject)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("h1"))
	assert.False(t, r.Remove("h1"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CleanupExpired(t *testing.T) {
	r := NewRegistry(fixedClock(baseTime))

	r.Add("past", identityExpiringAt("a", baseTime.Add(-time.Minute)))
	r.Add("exact", identityExpiringAt("b", baseTime))
	r.Add("future", identityExpiringAt("c", baseTime.Add(time.Second)))

	removed := r.CleanupExpired(baseTime)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, baseTime, r.LastCleanup())

	_, ok := r.Get("future")
	assert.True(t, ok)
	_, ok = r.Get("exact")
	assert.False(t, ok)

	later := baseTime.Add(time.Hour)
	assert.Equal(t, 1, r.CleanupExpired(later))
	assert.Equal(t, later, r.LastCleanup())
	assert.Equal(t, 0, r.CleanupExpired(later))
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry(fixedClock(baseTime))
	r.Add("h1", identityExpiringAt("alice", baseTime.Add(time.Hour)))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 1)

	delete(snapshot, "h1")
	snapshot["h2"] = identityExpiringAt("bob", baseTime.Add(time.Hour))

	assert.Equal(t, 1, r.Len())
	_, ok := r.Get("h2")
	assert.False(t, ok)
}

func TestRegistry_RestoreReplacesTable(t *testing.T) {
	clock := baseTime
	r := NewRegistry(func() time.Time { return clock })
	r.Add("old", identityExpiringAt("old", baseTime.Add(time.Hour)))

	clock = baseTime.Add(30 * time.Minute)
	r.Restore(models.Snapshot{
		"h1":   identityExpiringAt("alice", baseTime.Add(time.Hour)),
		"h2":   identityExpiringAt("bob", baseTime.Add(2*time.Hour)),
		"null": nil,
	})

	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("old")
	assert.False(t, ok)
	assert.Equal(t, clock, r.LastCleanup())

	snapshot := r.Snapshot()
	assert.Equal(t, "alice", snapshot["h1"].Subject)
	assert.Equal(t, "bob", snapshot["h2"].Subject)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(nil)
	expires := time.Now().Add(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written = make(map[string]*models.Identity)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				handle := fmt.Sprintf("w%d-%d", w, i)
				identity := identityExpiringAt(handle, expires)
				r.Add(handle, identity)
				got, ok := r.Get(handle)
				assert.True(t, ok)
				assert.Same(t, identity, got)
				_ = r.Snapshot()
				r.CleanupExpired(time.Now())

				mu.Lock()
				written[handle] = identity
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, 800, r.Len())
	for handle, identity := range written {
		got, ok := r.Get(handle)
		require.True(t, ok, handle)
		assert.Same(t, identity, got, handle)
	}
}

func TestRegistry_ConcurrentAddsThenGets(t *testing.T) {
	const n = 500
	r := NewRegistry(nil)
	expires := time.Now().Add(time.Hour)

	identities := make([]*models.Identity, n)
	for i := range identities {
		identities[i] = identityExpiringAt(fmt.Sprintf("sub-%d", i), expires)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(fmt.Sprintf("handle-%d", i), identities[i])
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, r.Len())

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, ok := r.Get(fmt.Sprintf("handle-%d", i))
			if assert.True(t, ok) {
				assert.Same(t, identities[i], got)
				assert.Equal(t, fmt.Sprintf("sub-%d", i), got.Subject)
			}
		}(i)
	}
	wg.Wait()
}

func TestRegistry_AddIgnoresNilIdentity(t *testing.T) {
	r := NewRegistry(fixedClock(baseTime))

	r.Add("empty", nil)

	_, ok := r.Get("empty")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.NotPanics(t, func() { r.CleanupExpired(baseTime) })
	assert.Empty(t, r.Snapshot())
}

func TestNewHandle(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		handle, err := NewHandle()
		require.NoError(t, err)
		assert.Len(t, handle, 43)
		assert.NotContains(t, handle, "=")
		_, dup := seen[handle]
		assert.False(t, dup)
		seen[handle] = struct{}{}
	}
}
