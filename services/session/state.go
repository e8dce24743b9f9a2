package session

import (
	"sync"
	"time"

	"github.com/rl337/authface/services"
)

// DefaultStateTTL bounds how long a login may sit at the provider
const DefaultStateTTL = 10 * time.Minute

// PendingAuthorization is what the server remembers about an issued state
type PendingAuthorization struct {
	Provider    string
	RedirectURI string
	ExpiresAt   time.Time
}

// StateStore holds anti-forgery state tokens between /auth and /callback.
// Each state is single use.
type StateStore struct {
	mu      sync.Mutex
	pending map[string]PendingAuthorization
	ttl     time.Duration
	now     func() time.Time
}

// NewStateStore creates a store whose entries live for ttl. A non-positive
// ttl uses DefaultStateTTL and a nil now uses time.Now.
func NewStateStore(ttl time.Duration, now func() time.Time) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateStore{
		pending: make(map[string]PendingAuthorization),
		ttl:     ttl,
		now:     now,
	}
}

// Save remembers state for provider and redirectURI
func (s *StateStore) Save(state, provider, redirectURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[state] = PendingAuthorization{
		Provider:    provider,
		RedirectURI: redirectURI,
		ExpiresAt:   s.now().Add(s.ttl),
	}
}

// Consume removes state and returns what it was bound to. Unknown, expired,
// or cross-provider states fail with ErrInvalidState; the entry is gone
// either way.
func (s *StateStore) Consume(state, provider string) (PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[state]
	if !ok {
		return PendingAuthorization{}, services.ErrInvalidState
	}
	delete(s.pending, state)

	if !pending.ExpiresAt.After(s.now()) || pending.Provider != provider {
		return PendingAuthorization{}, services.ErrInvalidState
	}
	return pending, nil
}

// CleanupExpired drops states whose deadline has passed
func (s *StateStore) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for state, pending := range s.pending {
		if !pending.ExpiresAt.After(now) {
			delete(s.pending, state)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding states
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}
