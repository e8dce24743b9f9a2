package session

import (
	"sync"
	"time"

	"github.com/rl337/authface/models"
)

// Registry is the in-memory session table mapping handles to identities.
// Lookups share a read lock; mutations take the write lock. No I/O happens
// while the lock is held.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Identity
	lastCleanup time.Time
	now         func() time.Time
}

// NewRegistry creates an empty registry. A nil now uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions:    make(map[string]*models.Identity),
		lastCleanup: now(),
		now:         now,
	}
}

// Add stores identity under handle, replacing any previous entry. A nil
// identity is ignored.
func (r *Registry) Add(handle string, identity *models.Identity) {
	if identity == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[handle] = identity
}

// Get returns the identity for handle. Expired entries are still returned
// until CleanupExpired removes them; callers check ExpiresAt.
func (r *Registry) Get(handle string) (*models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.sessions[handle]
	return identity, ok
}

// Remove deletes handle and reports whether it was present
func (r *Registry) Remove(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[handle]; !ok {
		return false
	}
	delete(r.sessions, handle)
	return true
}

// CleanupExpired removes every identity with expires_at at or before now and
// returns how many were removed
func (r *Registry) CleanupExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for handle, identity := range r.sessions {
		if !identity.ExpiresAt.After(now) {
			delete(r.sessions, handle)
			removed++
		}
	}
	r.lastCleanup = now
	return removed
}

// Snapshot returns a copy of the table. The map is fresh but the identities
// are shared; they are never mutated after Add.
func (r *Registry) Snapshot() models.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(models.Snapshot, len(r.sessions))
	for handle, identity := range r.sessions {
		snapshot[handle] = identity
	}
	return snapshot
}

// Restore replaces the whole table with snapshot and resets the cleanup time
func (r *Registry) Restore(snapshot models.Snapshot) {
	sessions := make(map[string]*models.Identity, len(snapshot))
	for handle, identity := range snapshot {
		if identity != nil {
			sessions[handle] = identity
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = sessions
	r.lastCleanup = r.now()
}

// Len returns the number of sessions, expired or not
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// LastCleanup returns when CleanupExpired or Restore last ran
func (r *Registry) LastCleanup() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastCleanup
}
