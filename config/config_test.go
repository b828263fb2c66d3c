package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, BackendMemory, cfg.Storage.Backend)
				assert.Equal(t, 0, cfg.Governance.DefaultTrustLevel)
				assert.Equal(t, "none", cfg.Governance.TrustDecayMode)
				assert.True(t, cfg.Governance.RequireExplicitConsent)
				assert.Equal(t, "agentgate", cfg.Redis.Namespace)
			},
		},
		{
			name: "postgres backend configuration",
			envVars: map[string]string{
				"ENVIRONMENT":     "development",
				"STORAGE_BACKEND": "postgres",
				"DB_HOST":         "prod-db.example.com",
				"DB_PORT":         "5433",
				"DB_USER":         "gate",
				"DB_NAME":         "gate",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
				assert.Equal(t, "prod-db.example.com", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
			},
		},
		{
			name: "redis backend configuration",
			envVars: map[string]string{
				"ENVIRONMENT":     "development",
				"STORAGE_BACKEND": "redis",
				"REDIS_ADDR":      "cache.internal:6380",
				"REDIS_DB":        "2",
				"REDIS_NAMESPACE": "gate-staging",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, BackendRedis, cfg.Storage.Backend)
				assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr)
				assert.Equal(t, 2, cfg.Redis.DB)
				assert.Equal(t, "gate-staging", cfg.Redis.Namespace)
			},
		},
		{
			name: "governance overrides",
			envVars: map[string]string{
				"ENVIRONMENT":              "development",
				"TRUST_DEFAULT_LEVEL":      "1",
				"TRUST_DECAY_MODE":         "gradual",
				"TRUST_DECAY_STEP":         "48h",
				"TRUST_REVIEW_INTERVAL":    "720h",
				"REQUIRE_EXPLICIT_CONSENT": "false",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 1, cfg.Governance.DefaultTrustLevel)
				assert.Equal(t, "gradual", cfg.Governance.TrustDecayMode)
				assert.Equal(t, 48*time.Hour, cfg.Governance.TrustDecayStep)
				assert.Equal(t, 720*time.Hour, cfg.Governance.TrustReviewInterval)
				assert.False(t, cfg.Governance.RequireExplicitConsent)
			},
		},
		{
			name: "custom timeouts and pool settings",
			envVars: map[string]string{
				"SERVER_READ_TIMEOUT":  "60s",
				"SERVER_WRITE_TIMEOUT": "90s",
				"DB_MAX_OPEN_CONNS":    "50",
				"DB_MAX_IDLE_CONNS":    "10",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, 50, cfg.Database.MaxOpenConns)
				assert.Equal(t, 10, cfg.Database.MaxIdleConns)
			},
		},
		{
			name: "observability configuration",
			envVars: map[string]string{
				"LOG_LEVEL":  "debug",
				"LOG_FORMAT": "text",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "text", cfg.Observability.LogFormat)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT default",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
				"PORT":        "9443",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "SERVER_PORT env var when PORT not set",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
				"SERVER_PORT": "9000",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
			},
		},
		{
			name: "unknown storage backend",
			envVars: map[string]string{
				"ENVIRONMENT":     "development",
				"STORAGE_BACKEND": "dynamodb",
			},
			wantErr: true,
		},
		{
			name: "unknown decay mode",
			envVars: map[string]string{
				"ENVIRONMENT":      "development",
				"TRUST_DECAY_MODE": "linear",
			},
			wantErr: true,
		},
		{
			name: "out of range default trust level",
			envVars: map[string]string{
				"ENVIRONMENT":         "development",
				"TRUST_DEFAULT_LEVEL": "7",
			},
			wantErr: true,
		},
		{
			name: "production without jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "production with jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
				"JWT_SECRET":  "super-secret",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "development",
			Storage:     StorageConfig{Backend: BackendMemory},
			Governance:  GovernanceConfig{TrustDecayMode: "none"},
			Observability: ObservabilityConfig{
				LogLevel: "info",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid memory config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "postgres backend without database",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendPostgres
			},
			wantErr: true,
			errMsg:  "database configuration required",
		},
		{
			name: "postgres backend without database user",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendPostgres
				c.Database.Host = "localhost"
				c.Database.Database = "db"
			},
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name: "gradual decay without step",
			mutate: func(c *Config) {
				c.Governance.TrustDecayMode = "gradual"
			},
			wantErr: true,
			errMsg:  "TRUST_DECAY_STEP",
		},
		{
			name: "missing log level",
			mutate: func(c *Config) {
				c.Observability.LogLevel = ""
			},
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"dev", "dev", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		fallback int
		want     int
	}{
		{"valid int", "TEST_INT", "42", 10, 42},
		{"empty value", "TEST_INT", "", 10, 10},
		{"invalid int", "TEST_INT", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsInt(tt.key, tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		fallback bool
		want     bool
	}{
		{"true", "TEST_BOOL", "true", false, true},
		{"false", "TEST_BOOL", "false", true, false},
		{"empty value", "TEST_BOOL", "", true, true},
		{"invalid bool", "TEST_BOOL", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsBool(tt.key, tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		fallback time.Duration
		want     time.Duration
	}{
		{"valid duration", "TEST_DURATION", "30s", 10 * time.Second, 30 * time.Second},
		{"empty value", "TEST_DURATION", "", 10 * time.Second, 10 * time.Second},
		{"invalid duration", "TEST_DURATION", "not-a-duration", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsDuration(tt.key, tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}
