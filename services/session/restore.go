package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories"
	"go.uber.org/zap"
)

// DefaultRestoreAttempts bounds how often startup retries the durable store
const DefaultRestoreAttempts = 5

// Restore loads the latest snapshot into registry. An empty store is not an
// error. Any other failure is retried with exponential backoff and finally
// returned, leaving the registry untouched.
func Restore(ctx context.Context, registry *Registry, store repositories.SnapshotStore, attempts uint, logger *zap.Logger) (int, error) {
	if store == nil {
		return 0, nil
	}
	if attempts == 0 {
		attempts = DefaultRestoreAttempts
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	snapshot, err := backoff.Retry(ctx, func() (models.Snapshot, error) {
		snapshot, err := store.Load(ctx)
		if errors.Is(err, repositories.ErrNoSnapshot) {
			return nil, backoff.Permanent(err)
		}
		return snapshot, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("session snapshot load failed, retrying",
				zap.Error(err),
				zap.Duration("retry_in", next))
		}),
	)
	if errors.Is(err, repositories.ErrNoSnapshot) {
		logger.Info("no session snapshot to restore")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	registry.Restore(snapshot)
	logger.Info("restored sessions from snapshot", zap.Int("sessions", registry.Len()))
	return registry.Len(), nil
}
