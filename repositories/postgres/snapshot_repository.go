package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories"
	"go.uber.org/zap"
)

// SnapshotRepository implements repositories.SnapshotStore on the
// session_snapshots table
type SnapshotRepository struct {
	db     *DB
	tx     *TxRunner
	clock  *repositories.GenerationClock
	logger *zap.Logger
}

// NewSnapshotRepository creates a new snapshot repository. A nil now uses time.Now.
func NewSnapshotRepository(db *DB, now func() time.Time, logger *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     db,
		tx:     NewTxRunner(db, DefaultSerializableAttempts, logger),
		clock:  repositories.NewGenerationClock(now),
		logger: logger,
	}
}

// Store inserts a new generation. The newest existing marker is read in the
// same serializable transaction, so markers keep increasing across restarts
// and across instances sharing the table.
func (r *SnapshotRepository) Store(ctx context.Context, snapshot models.Snapshot) (int64, error) {
	payload, err := repositories.EncodeSnapshot(snapshot)
	if err != nil {
		return 0, err
	}

	var marker int64
	err = r.tx.Serializable(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var newest sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(generation) FROM session_snapshots`).Scan(&newest); err != nil {
			return fmt.Errorf("failed to read newest snapshot generation: %w", err)
		}
		if newest.Valid {
			r.clock.Observe(newest.Int64)
		}

		marker = r.clock.Next()
		query := `
			INSERT INTO session_snapshots (generation, created_at, session_count, payload)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.ExecContext(ctx, query, marker, r.clock.Now().UTC(), len(snapshot), payload); err != nil {
			return fmt.Errorf("failed to insert snapshot generation %d: %w", marker, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug("session snapshot stored",
		zap.Int64("generation", marker),
		zap.Int("sessions", len(snapshot)))
	return marker, nil
}

// Load returns the newest generation
func (r *SnapshotRepository) Load(ctx context.Context) (models.Snapshot, error) {
	query := `
		SELECT generation, payload
		FROM session_snapshots
		ORDER BY generation DESC
		LIMIT 1
	`

	var (
		marker  int64
		payload []byte
	)
	if err := r.db.QueryRowContext(ctx, query).Scan(&marker, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	r.clock.Observe(marker)
	return repositories.DecodeSnapshot(payload)
}

// PurgeOlderThan deletes generations created before now minus age
func (r *SnapshotRepository) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-age).UTC()

	result, err := r.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged snapshots: %w", err)
	}
	return int(affected), nil
}
