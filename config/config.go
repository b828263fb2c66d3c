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
)

// Config is the full runtime configuration, assembled from environment
// variables (optionally seeded from a .env file).
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Governance    GovernanceConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StorageBackend selects the persistence implementation.
type StorageBackend string

const (
	BackendMemory   StorageBackend = "memory"
	BackendPostgres StorageBackend = "postgres"
	BackendRedis    StorageBackend = "redis"
)

// StorageConfig selects and tunes the storage backend behind the managers.
type StorageConfig struct {
	Backend StorageBackend
}

// DatabaseConfig covers the postgres backend. ConnectionString, when set,
// overrides the individual fields.
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

// RedisConfig holds Redis connection configuration for the redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string // Key prefix so multiple deployments can share a server
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens. Required in production.
	JWTSecret string
	// TokenTTL bounds how long issued tokens stay valid.
	TokenTTL time.Duration
	// APIKeyHash is the bcrypt hash of the operator API key. When set,
	// requests may authenticate with X-API-Key instead of a bearer token.
	APIKeyHash string
}

// GovernanceConfig holds engine defaults: the trust registry's baseline and
// decay behavior, plus the consent policy mode.
type GovernanceConfig struct {
	DefaultTrustLevel      int
	TrustDecayMode         string // none, cliff, or gradual
	TrustDecayStep         time.Duration
	TrustReviewInterval    time.Duration
	RequireExplicitConsent bool
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New assembles and validates the configuration from the environment.
func New(ctx context.Context) (*Config, error) {
	// A missing .env is not an error; real deployments set env vars directly.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Backend: StorageBackend(getEnv("STORAGE_BACKEND", string(BackendMemory))),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			Namespace: getEnv("REDIS_NAMESPACE", "agentgate"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenTTL:   getEnvAsDuration("JWT_TOKEN_TTL", 1*time.Hour),
			APIKeyHash: getEnv("API_KEY_HASH", ""),
		},
		Governance: GovernanceConfig{
			DefaultTrustLevel:      getEnvAsInt("TRUST_DEFAULT_LEVEL", 0),
			TrustDecayMode:         getEnv("TRUST_DECAY_MODE", "none"),
			TrustDecayStep:         getEnvAsDuration("TRUST_DECAY_STEP", 24*time.Hour),
			TrustReviewInterval:    getEnvAsDuration("TRUST_REVIEW_INTERVAL", 0),
			RequireExplicitConsent: getEnvAsBool("REQUIRE_EXPLICIT_CONSENT", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the server could not run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Governance.TrustDecayMode {
	case "none", "cliff":
	case "gradual":
		if c.Governance.TrustDecayStep <= 0 {
			return fmt.Errorf("gradual trust decay requires a positive TRUST_DECAY_STEP")
		}
	default:
		return fmt.Errorf("unknown trust decay mode %q", c.Governance.TrustDecayMode)
	}
	if c.Governance.DefaultTrustLevel < 0 || c.Governance.DefaultTrustLevel > 5 {
		return fmt.Errorf("default trust level must be in [0, 5], got %d", c.Governance.DefaultTrustLevel)
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment reports whether the server runs with development settings.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN produces the lib/pq connection string. A DATABASE_URL value wins
// over the individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString describes the target database without leaking the password.
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

// loadDatabaseConfig prefers a single DATABASE_URL and falls back to the
// individual DB_* variables.
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
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "agentgate"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "agentgate"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address formats the host and port for net/http.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getPort honors PORT (the convention on most hosting platforms) before
// SERVER_PORT.
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if raw := os.Getenv(key); raw != "" {
			if p, err := strconv.Atoi(raw); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, fallback string) string {
	if raw := os.Getenv(key); raw != "" {
		return raw
	}
	return fallback
}

// Malformed values fall back to the default rather than failing startup.

func getEnvAsInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return fallback
}
