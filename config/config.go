package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/utils"
)

// Persistence backends
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Token         TokenConfig
	Session       SessionConfig
	Providers     []ProviderConfig
	Tiers         TierConfig
	Persistence   PersistenceConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string
	Port              int
	PublicBaseURL     string // Used to build /callback/{provider} redirect URIs
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	HTTPClientTimeout time.Duration // Outbound identity provider calls
	CORSOrigins       []string
}

// TokenConfig holds bearer token signing configuration
type TokenConfig struct {
	Issuer         string
	TTL            time.Duration
	PrivateKeyPath string
	PublicKeyPath  string
}

// SessionConfig holds identity lifetime settings
type SessionConfig struct {
	TTL      time.Duration
	StateTTL time.Duration
}

// ProviderConfig is one OIDC_<ID>_* block
type ProviderConfig struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string
	Issuer       string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// TierConfig holds the email domains mapped to elevated tiers
type TierConfig struct {
	AdminDomains     []string
	PreferredDomains []string
}

// PersistenceConfig selects and tunes the snapshot backend
type PersistenceConfig struct {
	Backend         string
	Interval        time.Duration
	Retention       time.Duration
	RestoreAttempts int
}

// RedisConfig holds the Redis snapshot backend settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuditConfig controls the asynchronous audit trail
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := Load()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the environment without validating
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getPort(),
			PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			HTTPClientTimeout: getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 10*time.Second),
			CORSOrigins:       getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Token: TokenConfig{
			Issuer:         getEnv("TOKEN_ISSUER", "authface"),
			TTL:            time.Duration(getEnvAsInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
			PrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "/etc/authface/jwt_private_key.pem"),
			PublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "/etc/authface/jwt_public_key.pem"),
		},
		Session: SessionConfig{
			TTL:      time.Duration(getEnvAsInt("SESSION_TTL_DAYS", 7)) * 24 * time.Hour,
			StateTTL: getEnvAsDuration("STATE_TTL", 10*time.Minute),
		},
		Providers: loadProviders(),
		Tiers: TierConfig{
			AdminDomains:     getEnvAsList("TIER_ADMIN_DOMAINS", []string{"admin.company.com"}),
			PreferredDomains: getEnvAsList("TIER_PREFERRED_DOMAINS", []string{"preferred.company.com"}),
		},
		Persistence: PersistenceConfig{
			Backend:         strings.ToLower(getEnv("PERSISTENCE_BACKEND", BackendMemory)),
			Interval:        getEnvAsDuration("PERSISTENCE_INTERVAL", time.Hour),
			Retention:       getEnvAsDuration("PERSISTENCE_RETENTION", 7*24*time.Hour),
			RestoreAttempts: getEnvAsInt("PERSISTENCE_RESTORE_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "authface:"),
		},
		Database: loadDatabaseConfig(),
		Audit: AuditConfig{
			Enabled:     getEnvAsBool("AUDIT_ENABLED", false),
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKER_COUNT", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Token.PrivateKeyPath == "" || c.Token.PublicKeyPath == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH are required")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL_DAYS must be positive")
	}
	if _, err := url.ParseRequestURI(c.Server.PublicBaseURL); err != nil {
		return fmt.Errorf("PUBLIC_BASE_URL is invalid: %w", err)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.ID] {
			return fmt.Errorf("provider %q listed twice in OIDC_PROVIDERS", p.ID)
		}
		seen[p.ID] = true
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if c.IsProduction() && len(c.Providers) == 0 {
		return fmt.Errorf("at least one OIDC provider must be configured in production")
	}

	switch c.Persistence.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if err := c.Database.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown PERSISTENCE_BACKEND %q", c.Persistence.Backend)
	}
	if c.Persistence.Interval <= 0 {
		return fmt.Errorf("PERSISTENCE_INTERVAL must be positive")
	}

	if c.Audit.Enabled {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("audit requires a database: %w", err)
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Validate checks one provider block
func (p ProviderConfig) Validate() error {
	if err := utils.ValidateProviderID(p.ID); err != nil {
		return fmt.Errorf("OIDC_PROVIDERS: %w", err)
	}
	if p.ClientID == "" {
		return fmt.Errorf("provider %q: client id is required", p.ID)
	}
	explicit := p.AuthURL != "" && p.TokenURL != "" && p.UserInfoURL != ""
	if p.Issuer == "" && !explicit {
		return fmt.Errorf("provider %q: set an issuer or all of auth, token and userinfo urls", p.ID)
	}
	return nil
}

// Descriptor converts the block into an unresolved provider descriptor
func (p ProviderConfig) Descriptor() models.ProviderDescriptor {
	name := p.Name
	if name == "" {
		name = p.ID
	}
	return models.ProviderDescriptor{
		ID:                    p.ID,
		Name:                  name,
		ClientID:              p.ClientID,
		ClientSecret:          p.ClientSecret,
		Issuer:                p.Issuer,
		AuthorizationEndpoint: p.AuthURL,
		TokenEndpoint:         p.TokenURL,
		UserInfoEndpoint:      p.UserInfoURL,
		Scopes:                p.Scopes,
	}
}

// Validate checks that either DATABASE_URL or the DB_* fields are usable
func (c *DatabaseConfig) Validate() error {
	if c.ConnectionString == "" && c.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.ConnectionString == "" {
		if c.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// RedirectURI returns the callback URL registered with a provider
func (c *ServerConfig) RedirectURI(providerID string) string {
	return c.PublicBaseURL + "/callback/" + url.PathEscape(providerID)
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "authface"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "authface"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProviders reads OIDC_PROVIDERS and one OIDC_<ID>_* block per listed id
func loadProviders() []ProviderConfig {
	ids := getEnvAsList("OIDC_PROVIDERS", nil)
	providers := make([]ProviderConfig, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(id)
		prefix := "OIDC_" + envKey(id) + "_"
		providers = append(providers, ProviderConfig{
			ID:           id,
			Name:         getEnv(prefix+"NAME", id),
			ClientID:     getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
			Issuer:       getEnv(prefix+"ISSUER", ""),
			AuthURL:      getEnv(prefix+"AUTH_URL", ""),
			TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
			UserInfoURL:  getEnv(prefix+"USERINFO_URL", ""),
			Scopes:       getEnvAsFields(prefix+"SCOPES", models.DefaultScopes),
		})
	}
	return providers
}

// envKey upper-cases id and replaces anything outside [A-Z0-9] with '_'
func envKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsFields splits on commas or whitespace, the way scope lists are written
func getEnvAsFields(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	return strings.FieldsFunc(valueStr, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
