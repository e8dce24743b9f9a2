package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// serializationFailure is the SQLSTATE reported when a serializable
// transaction loses a conflict with a concurrent one
const serializationFailure pq.ErrorCode = "40001"

// DefaultSerializableAttempts bounds how often a conflicting transaction is rerun
const DefaultSerializableAttempts = 3

// serializable is the isolation level generation writes run under. Two
// instances sharing a database both read MAX(generation) before inserting,
// so anything weaker lets them pick the same marker.
var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// TxFunc is the body of a transaction. It must be safe to run more than once.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// TxRunner runs functions in SERIALIZABLE transactions, committing on success
// and rerunning the whole function when Postgres reports a serialization
// failure.
type TxRunner struct {
	db       *DB
	attempts uint
	backoff  func() backoff.BackOff
	logger   *zap.Logger
}

// NewTxRunner creates a runner that tries each transaction at most attempts
// times. Zero means DefaultSerializableAttempts.
func NewTxRunner(db *DB, attempts uint, logger *zap.Logger) *TxRunner {
	if attempts == 0 {
		attempts = DefaultSerializableAttempts
	}
	return &TxRunner{
		db:       db,
		attempts: attempts,
		backoff: func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = 10 * time.Millisecond
			policy.MaxInterval = 200 * time.Millisecond
			return policy
		},
		logger: logger,
	}
}

// Serializable runs fn in a SERIALIZABLE transaction. Errors other than a
// serialization failure are returned after the first attempt.
func (r *TxRunner) Serializable(ctx context.Context, fn TxFunc) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.runOnce(ctx, fn)
		if err != nil && !IsSerializationFailure(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(r.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("serializable transaction conflicted, retrying",
				zap.Error(err),
				zap.Duration("retry_in", next))
		}),
	)
	return err
}

func (r *TxRunner) runOnce(ctx context.Context, fn TxFunc) error {
	tx, err := r.db.BeginTx(ctx, serializable)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsSerializationFailure reports whether err carries SQLSTATE 40001
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == serializationFailure
}
