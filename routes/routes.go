package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/modelware/agentgate/app"
	"github.com/modelware/agentgate/handlers"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	governanceHandler := handlers.NewGovernanceHandler(deps.Engine, deps.Logger)
	trustHandler := handlers.NewTrustHandler(deps.Trust, deps.Logger)
	budgetHandler := handlers.NewBudgetHandler(deps.Budget, deps.Logger)
	consentHandler := handlers.NewConsentHandler(deps.Consent, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.Audit, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Logger)

	// Health check endpoints
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Evaluation endpoint: the primary gate agents call before acting
		r.Route("/evaluate", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/", governanceHandler.HandleEvaluate)
		})

		// Trust assignments (owner operations require admin role)
		r.Route("/trust", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/check", trustHandler.HandleCheck)
			r.Get("/assignments", trustHandler.HandleList)
			r.Get("/agents/{agentID}/level", trustHandler.HandleGetLevel)
			r.Get("/agents/{agentID}/history", trustHandler.HandleHistory)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))
				r.Post("/assignments", trustHandler.HandleAssign)
				r.Delete("/agents/{agentID}", trustHandler.HandleRevoke)
			})
		})

		// Budget envelopes and spending
		r.Route("/budget", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/check", budgetHandler.HandleCheck)
			r.Post("/spend", budgetHandler.HandleSpend)
			r.Post("/commits", budgetHandler.HandleCommit)
			r.Post("/commits/{commitID}/release", budgetHandler.HandleRelease)
			r.Get("/envelopes", budgetHandler.HandleListEnvelopes)
			r.Get("/envelopes/{category}", budgetHandler.HandleGetEnvelope)
			r.Get("/utilization", budgetHandler.HandleUtilization)
			r.Get("/transactions", budgetHandler.HandleTransactions)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))
				r.Post("/envelopes", budgetHandler.HandleCreateEnvelope)
				r.Post("/envelopes/{category}/suspend", budgetHandler.HandleSuspend)
				r.Post("/envelopes/{category}/resume", budgetHandler.HandleResume)
			})
		})

		// Consent grants
		r.Route("/consent", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/check", consentHandler.HandleCheck)
			r.Get("/grants", consentHandler.HandleList)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))
				r.Post("/grants", consentHandler.HandleGrant)
				r.Post("/revoke", consentHandler.HandleRevoke)
			})
		})

		// Audit chain (read-only; export and verify require admin role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/records", auditHandler.HandleQuery)
			r.Get("/stats", auditHandler.HandleStats)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole("admin"))
				r.Get("/verify", auditHandler.HandleVerify)
				r.Get("/export", auditHandler.HandleExport)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
