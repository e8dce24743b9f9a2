package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rl337/authface/config"
	"github.com/rl337/authface/handlers"
	"github.com/rl337/authface/internal/observability"
	"github.com/rl337/authface/internal/policy"
	"github.com/rl337/authface/middleware"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories"
	"github.com/rl337/authface/repositories/memory"
	"github.com/rl337/authface/repositories/postgres"
	"github.com/rl337/authface/repositories/redis"
	"github.com/rl337/authface/services/audit"
	"github.com/rl337/authface/services/identity"
	"github.com/rl337/authface/services/session"
	"github.com/rl337/authface/services/token"
	"go.uber.org/zap"
)

const (
	auditStopTimeout = 5 * time.Second
	redisDialTimeout = 5 * time.Second
	redisIOTimeout   = 3 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Persistence. DB and RepoFactory are set only for the postgres backend,
	// Redis only for the redis backend.
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	Redis       *redis.SnapshotStore
	Snapshots   repositories.SnapshotStore
	AuditLogs   repositories.AuditRepository

	// Core
	Issuer    *token.Issuer
	Policy    *policy.TierPolicy
	Exchanger *identity.Exchanger
	Sessions  *session.Registry
	States    *session.StateStore
	Janitor   *session.Janitor
	Audit     *audit.AuditService

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	AuthHandler    *handlers.AuthHandler
	HealthHandler  *handlers.HealthHandler
	AuditHandler   *handlers.AuditHandler
	SessionHandler *handlers.SessionHandler

	StartedAt time.Time
}

// NewDependencies creates and wires up all application dependencies. Any
// error here is a startup failure.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		StartedAt: time.Now(),
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initIssuer(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	if err := deps.initPersistence(ctx, cfg); err != nil {
		deps.closePersistence()
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	if err := deps.initExchanger(ctx, cfg); err != nil {
		deps.closePersistence()
		return nil, fmt.Errorf("failed to initialize identity providers: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		deps.closePersistence()
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	deps.initSessions(cfg)
	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("persistence_backend", cfg.Persistence.Backend),
		zap.Strings("providers", deps.Exchanger.Providers()),
		zap.Bool("audit_enabled", deps.Audit != nil),
		zap.Bool("metrics_enabled", deps.Metrics != nil))
	return deps, nil
}

// initIssuer loads the signing key pair. A missing or mismatched pair is fatal.
func (d *Dependencies) initIssuer(cfg *config.Config) error {
	issuer, err := token.LoadIssuer(cfg.Token.PrivateKeyPath, cfg.Token.PublicKeyPath,
		token.WithIssuerName(cfg.Token.Issuer))
	if err != nil {
		return err
	}
	d.Issuer = issuer
	d.Logger.Info("token issuer initialized",
		zap.String("issuer", cfg.Token.Issuer),
		zap.String("kid", issuer.KeyID()))
	return nil
}

// initPersistence opens the configured snapshot backend
func (d *Dependencies) initPersistence(ctx context.Context, cfg *config.Config) error {
	switch cfg.Persistence.Backend {
	case config.BackendNone:
		d.Logger.Warn("session persistence disabled, sessions will not survive restarts")
		return nil

	case config.BackendMemory:
		d.Snapshots = memory.NewSnapshotStore(nil)
		d.Logger.Info("using in-memory session snapshots")
		return nil

	case config.BackendRedis:
		store, err := redis.NewSnapshotStore(ctx, redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			DialTimeout:  redisDialTimeout,
			ReadTimeout:  redisIOTimeout,
			WriteTimeout: redisIOTimeout,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Redis = store
		d.Snapshots = store
		return nil

	case config.BackendPostgres:
		return d.initDatabase(ctx, cfg)

	default:
		return fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// initDatabase initializes the PostgreSQL connection, schema and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	repos := factory.NewRepositories(nil)
	d.Snapshots = repos.Snapshots
	d.AuditLogs = repos.AuditLogs

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initExchanger resolves every configured provider and builds the exchanger
func (d *Dependencies) initExchanger(ctx context.Context, cfg *config.Config) error {
	d.Policy = policy.NewTierPolicy(
		policy.EmailDomainRule(models.TierAdmin, cfg.Tiers.AdminDomains...),
		policy.EmailDomainRule(models.TierPreferred, cfg.Tiers.PreferredDomains...),
	)
	for _, rule := range d.Policy.Rules() {
		d.Logger.Info("tier rule loaded",
			zap.String("rule", rule.Name),
			zap.String("tier", rule.Tier.String()))
	}

	client := &http.Client{Timeout: cfg.Server.HTTPClientTimeout}

	descriptors := make([]models.ProviderDescriptor, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		descriptor, err := identity.Discover(ctx, client, p.Descriptor())
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.ID, err)
		}
		descriptors = append(descriptors, descriptor)
		d.Logger.Info("identity provider registered",
			zap.String("provider", descriptor.ID),
			zap.String("authorization_endpoint", descriptor.AuthorizationEndpoint))
	}
	if len(descriptors) == 0 {
		d.Logger.Warn("no identity providers configured, login endpoints will return 404")
	}

	exchanger, err := identity.NewExchanger(descriptors, d.Policy, d.Logger,
		identity.WithHTTPClient(client),
		identity.WithSessionTTL(cfg.Session.TTL),
		identity.WithMetrics(d.Metrics))
	if err != nil {
		return err
	}
	d.Exchanger = exchanger
	return nil
}

// initAudit starts the audit workers when the trail is enabled
func (d *Dependencies) initAudit(cfg *config.Config) error {
	if !cfg.Audit.Enabled {
		return nil
	}
	if d.AuditLogs == nil {
		return fmt.Errorf("audit trail requires the postgres persistence backend")
	}

	service := audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	if err := service.Start(); err != nil {
		return err
	}
	d.Audit = service
	return nil
}

// initSessions builds the registry, the pending state store and the janitor
func (d *Dependencies) initSessions(cfg *config.Config) {
	d.Sessions = session.NewRegistry(nil)
	d.States = session.NewStateStore(cfg.Session.StateTTL, nil)

	opts := []session.JanitorOption{
		session.WithStateStore(d.States),
		session.WithMetrics(d.Metrics),
	}
	if d.Audit != nil {
		opts = append(opts, session.WithEvictionRecorder(d.Audit))
	}
	d.Janitor = session.NewJanitor(d.Sessions, d.Snapshots, session.JanitorConfig{
		Interval:  cfg.Persistence.Interval,
		Retention: cfg.Persistence.Retention,
	}, d.Logger, opts...)
}

// initHTTP builds the middleware and handlers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Issuer, d.Metrics, d.Logger)

	d.AuthHandler = handlers.NewAuthHandler(
		d.Exchanger,
		d.Issuer,
		d.Sessions,
		d.States,
		d.Audit,
		d.Metrics,
		handlers.AuthHandlerConfig{
			TokenTTL:      cfg.Token.TTL,
			RedirectURI:   cfg.Server.RedirectURI,
			SecureCookies: cfg.IsProduction(),
		},
		d.Logger,
	)

	if d.DB != nil {
		d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Logger)
	} else {
		d.HealthHandler = handlers.NewHealthHandler(nil, d.Logger)
	}
	if d.Redis != nil {
		d.HealthHandler.AddCheck("redis", d.Redis.Ping)
	}
	if d.Audit != nil {
		d.HealthHandler.AddCheck("audit", d.Audit.Ready)
	}
	if d.AuditLogs != nil {
		d.AuditHandler = handlers.NewAuditHandler(d.AuditLogs, d.Logger)
	}

	d.SessionHandler = handlers.NewSessionHandler(d.Sessions, d.States, d.StartedAt, nil, d.Logger)
}

// RestoreSessions loads the newest snapshot into the registry. A failure
// leaves the registry empty and is reported to the caller, which decides
// whether to keep serving.
func (d *Dependencies) RestoreSessions(ctx context.Context) (int, error) {
	attempts := uint(session.DefaultRestoreAttempts)
	if d.Config != nil && d.Config.Persistence.RestoreAttempts > 0 {
		attempts = uint(d.Config.Persistence.RestoreAttempts)
	}
	n, err := session.Restore(ctx, d.Sessions, d.Snapshots, attempts, d.Logger)
	if err != nil {
		return 0, err
	}
	d.Metrics.SetActiveSessions(d.Sessions.Len())
	return n, nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain the audit trail before the database goes away
	if d.Audit != nil {
		timeout := auditStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	errs = append(errs, d.closePersistence()...)

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closePersistence() []error {
	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
		d.Redis = nil
	}

	return errs
}
