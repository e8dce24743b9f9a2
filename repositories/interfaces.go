package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/rl337/authface/models"
)

// ErrNoSnapshot is returned by SnapshotStore.Load when nothing has been stored yet
var ErrNoSnapshot = errors.New("no session snapshot stored")

// SnapshotStore persists whole-registry snapshots as numbered generations.
// Generation markers are strictly increasing across calls to Store on one
// store instance.
type SnapshotStore interface {
	// Store writes a new generation and returns its marker
	Store(ctx context.Context, snapshot models.Snapshot) (int64, error)

	// Load returns the most recent generation, or ErrNoSnapshot
	Load(ctx context.Context) (models.Snapshot, error)

	// PurgeOlderThan deletes generations created more than age ago and
	// reports how many were removed
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetBySubject retrieves audit logs for a principal with pagination
	GetBySubject(ctx context.Context, provider, subject string, limit, offset int) ([]*models.AuditLog, error)

	// GetByAction retrieves audit logs by action type
	GetByAction(ctx context.Context, action models.AuditAction, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories groups the database backed repositories
type Repositories struct {
	Snapshots SnapshotStore
	AuditLogs AuditRepository
}
