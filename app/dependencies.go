// Package app wires configuration, storage, services, and middleware into
// one dependency graph the router and main consume.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/config"
	"github.com/modelware/agentgate/middleware"
	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/repositories"
	"github.com/modelware/agentgate/repositories/memory"
	"github.com/modelware/agentgate/repositories/postgres"
	redisrepo "github.com/modelware/agentgate/repositories/redis"
	"github.com/modelware/agentgate/services/audit"
	"github.com/modelware/agentgate/services/budget"
	"github.com/modelware/agentgate/services/consent"
	"github.com/modelware/agentgate/services/governance"
	"github.com/modelware/agentgate/services/trust"
)

// Dependencies holds all application dependencies. It is the central wiring
// point for dependency injection.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	Store  repositories.Storage

	Trust   *trust.Service
	Budget  *budget.Service
	Consent *consent.Service
	Audit   *audit.Service
	Engine  *governance.Engine

	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := deps.initServices(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized",
		zap.String("storage_backend", string(cfg.Storage.Backend)))
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		d.Store = memory.New()
	case config.BackendPostgres:
		store, err := postgres.New(ctx, cfg.Database, d.Logger)
		if err != nil {
			return err
		}
		d.Store = store
	case config.BackendRedis:
		store, err := redisrepo.New(ctx, cfg.Redis, d.Logger)
		if err != nil {
			return err
		}
		d.Store = store
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return nil
}

func (d *Dependencies) initServices(ctx context.Context, cfg *config.Config) error {
	trustSvc, err := trust.NewService(ctx, d.Store, d.Logger, trust.Config{
		DefaultLevel: models.TrustLevel(cfg.Governance.DefaultTrustLevel),
		Decay: trust.DecayConfig{
			Mode:           trust.DecayMode(cfg.Governance.TrustDecayMode),
			StepInterval:   cfg.Governance.TrustDecayStep,
			ReviewInterval: cfg.Governance.TrustReviewInterval,
		},
	})
	if err != nil {
		return fmt.Errorf("trust service: %w", err)
	}

	budgetSvc, err := budget.NewService(ctx, d.Store, d.Logger)
	if err != nil {
		return fmt.Errorf("budget service: %w", err)
	}

	consentSvc, err := consent.NewService(ctx, d.Store, d.Logger, consent.Config{
		RequireExplicit: cfg.Governance.RequireExplicitConsent,
	})
	if err != nil {
		return fmt.Errorf("consent service: %w", err)
	}

	auditSvc, err := audit.NewService(ctx, d.Store, d.Logger)
	if err != nil {
		return fmt.Errorf("audit service: %w", err)
	}

	d.Trust = trustSvc
	d.Budget = budgetSvc
	d.Consent = consentSvc
	d.Audit = auditSvc
	d.Engine = governance.NewEngine(trustSvc, budgetSvc, consentSvc, auditSvc, d.Logger)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.APIKeyHash, d.Logger)
	if cfg.Auth.JWTSecret == "" && cfg.Auth.APIKeyHash == "" {
		d.Logger.Warn("no JWT secret or API key hash configured, protected routes will reject all requests")
	}
}

// Close releases backend connections. Safe to call with a memory store.
func (d *Dependencies) Close() error {
	if closer, ok := d.Store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// NewLogger builds the process logger from observability settings.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Observability.LogLevel, err)
	}
	zapCfg.Level = level

	if cfg.Observability.LogFormat == "text" {
		zapCfg.Encoding = "console"
	} else {
		zapCfg.Encoding = "json"
	}

	return zapCfg.Build()
}
