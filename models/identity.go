package models

import "time"

// Identity is a verified principal produced by a successful provider exchange.
// It is immutable once created and shared read-only by the session registry.
type Identity struct {
	Subject     string    `json:"sub"`
	DisplayName *string   `json:"name"`
	Email       *string   `json:"email"`
	Provider    string    `json:"provider"`
	Tier        Tier      `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the identity is no longer valid at now
func (i *Identity) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// Snapshot is a full copy of the session registry, keyed by session handle.
// It is the unit of persistence.
type Snapshot map[string]*Identity

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
