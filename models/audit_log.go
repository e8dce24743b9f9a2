package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionLoginSucceeded  AuditAction = "login_succeeded"
	AuditActionLoginFailed     AuditAction = "login_failed"
	AuditActionTokenRefreshed  AuditAction = "token_refreshed"
	AuditActionSessionRevoked  AuditAction = "session_revoked"
	AuditActionSessionsEvicted AuditAction = "sessions_evicted"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Action       AuditAction     `json:"action" db:"action"`
	Subject      *string         `json:"subject,omitempty" db:"subject"`
	Provider     *string         `json:"provider,omitempty" db:"provider"`
	Tier         *string         `json:"tier,omitempty" db:"tier"`
	SessionID    *string         `json:"session_id,omitempty" db:"session_id"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "auth_audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now(),
	}
}

// WithIdentity copies the principal fields from an identity
func (a *AuditLog) WithIdentity(identity *Identity) *AuditLog {
	if identity == nil {
		return a
	}
	sub := identity.Subject
	provider := identity.Provider
	tier := identity.Tier.String()
	a.Subject = &sub
	a.Provider = &provider
	a.Tier = &tier
	return a
}

// WithProvider sets the provider without an identity, e.g. for failed logins
func (a *AuditLog) WithProvider(provider string) *AuditLog {
	a.Provider = &provider
	return a
}

// sessionRefLen is the number of hex characters kept from the digest
const sessionRefLen = 16

// SessionRef returns a stable, non-reversible reference to a session handle.
// Handles are bearer credentials and are never written to the audit trail.
func SessionRef(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	return hex.EncodeToString(sum[:])[:sessionRefLen]
}

// WithSession records a reference to the session handle
func (a *AuditLog) WithSession(handle string) *AuditLog {
	ref := SessionRef(handle)
	a.SessionID = &ref
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(errorMessage string) *AuditLog {
	a.ErrorMessage = &errorMessage
	return a
}
