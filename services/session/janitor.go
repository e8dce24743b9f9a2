package session

import (
	"context"
	"time"

	"github.com/rl337/authface/internal/observability"
	"github.com/rl337/authface/repositories"
	"github.com/rl337/authface/services"
	"go.uber.org/zap"
)

const (
	// DefaultJanitorInterval is the eviction cadence
	DefaultJanitorInterval = time.Hour

	flushTimeout = 10 * time.Second
)

// EvictionRecorder receives a record of every cleanup pass that removed
// sessions. *audit.AuditService satisfies it.
type EvictionRecorder interface {
	LogSessionsEvicted(removed, remaining int) error
}

// JanitorConfig configures a Janitor
type JanitorConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// Janitor periodically evicts expired sessions and, when anything was
// evicted, stores a snapshot of what is left. Store failures are logged and
// counted; the eviction stands.
type Janitor struct {
	registry  *Registry
	states    *StateStore
	store     repositories.SnapshotStore
	metrics   *observability.Metrics
	recorder  EvictionRecorder
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// JanitorOption customises a Janitor
type JanitorOption func(*Janitor)

// WithStateStore also expires pending authorization states on every tick
func WithStateStore(states *StateStore) JanitorOption {
	return func(j *Janitor) { j.states = states }
}

// WithMetrics reports evictions and store outcomes
func WithMetrics(metrics *observability.Metrics) JanitorOption {
	return func(j *Janitor) { j.metrics = metrics }
}

// WithEvictionRecorder audits eviction passes
func WithEvictionRecorder(recorder EvictionRecorder) JanitorOption {
	return func(j *Janitor) { j.recorder = recorder }
}

// WithJanitorClock overrides time.Now
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a janitor for registry. store may be nil, which keeps
// the registry memory-only.
func NewJanitor(registry *Registry, store repositories.SnapshotStore, cfg JanitorConfig, logger *zap.Logger, opts ...JanitorOption) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultJanitorInterval
	}
	j := &Janitor{
		registry:  registry,
		store:     store,
		logger:    logger,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run ticks until ctx is cancelled, then flushes a final snapshot
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("session janitor started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			err := j.Flush(flushCtx)
			cancel()
			j.logger.Info("session janitor stopped")
			return err
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

// Tick runs one eviction pass and returns how many sessions were removed
func (j *Janitor) Tick(ctx context.Context) int {
	now := j.now()
	removed := j.registry.CleanupExpired(now)
	remaining := j.registry.Len()

	if j.states != nil {
		if n := j.states.CleanupExpired(now); n > 0 {
			j.logger.Debug("expired pending authorizations", zap.Int("count", n))
		}
	}

	j.metrics.SetActiveSessions(remaining)
	if removed == 0 {
		return 0
	}

	j.metrics.RecordEvictions(removed)
	j.logger.Info("evicted expired sessions",
		zap.Int("removed", removed),
		zap.Int("remaining", remaining))

	if j.recorder != nil {
		if err := j.recorder.LogSessionsEvicted(removed, remaining); err != nil {
			j.logger.Warn("failed to audit eviction", zap.Error(err))
		}
	}

	if err := j.persist(ctx); err != nil {
		return removed
	}
	j.purge(ctx)
	return removed
}

// Flush stores the current registry regardless of evictions. A failed store
// is reported as services.ErrPersistence.
func (j *Janitor) Flush(ctx context.Context) error {
	return j.persist(ctx)
}

func (j *Janitor) persist(ctx context.Context) error {
	if j.store == nil {
		return nil
	}

	snapshot := j.registry.Snapshot()
	generation, err := j.store.Store(ctx, snapshot)
	if err != nil {
		j.metrics.RecordSnapshotStore(observability.OutcomeFailure)
		j.logger.Error("failed to store session snapshot, continuing memory-only",
			zap.Int("sessions", len(snapshot)),
			zap.Error(err))
		return services.ErrPersistence.Wrap(err)
	}

	j.metrics.RecordSnapshotStore(observability.OutcomeSuccess)
	j.logger.Info("stored session snapshot",
		zap.Int64("generation", generation),
		zap.Int("sessions", len(snapshot)))
	return nil
}

func (j *Janitor) purge(ctx context.Context) {
	if j.store == nil || j.retention <= 0 {
		return
	}
	purged, err := j.store.PurgeOlderThan(ctx, j.retention)
	if err != nil {
		j.logger.Warn("failed to purge old snapshot generations", zap.Error(err))
		return
	}
	if purged > 0 {
		j.logger.Info("purged old snapshot generations", zap.Int("count", purged))
	}
}
