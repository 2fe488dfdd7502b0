package routes

import (
	"net/http"
	"time"

	"github.com/agencydesk/spendguard/app"
	appmw "github.com/agencydesk/spendguard/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleLiveness)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Use(deps.AuthMiddleware.ExtractTenant)

		// Settlement ingestion and pre-spend authorization
		r.Post("/settlements", deps.SettlementHandler.HandleSettlement)
		r.Post("/authorize", deps.SettlementHandler.HandleAuthorize)

		// Organization management
		r.Route("/organizations", func(r chi.Router) {
			r.With(deps.AuthMiddleware.RequireRole(appmw.RoleOwner, appmw.RoleAdmin)).
				Post("/", deps.AgentHandler.HandleCreateOrganization)

			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", deps.AgentHandler.HandleGetOrganization)

				// Balance ledger
				r.Get("/balance", deps.LedgerHandler.HandleGetBalance)
				r.With(deps.AuthMiddleware.RequireRole(appmw.RoleOwner, appmw.RoleAdmin)).
					Post("/funds", deps.LedgerHandler.HandleAddFunds)
				r.With(deps.AuthMiddleware.RequireRole(appmw.RoleOwner, appmw.RoleAdmin)).
					Post("/deductions", deps.LedgerHandler.HandleDeductFunds)

				// Agents
				r.Get("/agents", deps.AgentHandler.HandleListAgents)
				r.With(deps.AuthMiddleware.RequireRole(appmw.RoleOwner, appmw.RoleAdmin)).
					Post("/agents", deps.AgentHandler.HandleCreateAgent)

				// Alerts and audit trail
				r.Get("/alerts", deps.AlertHandler.HandleListAlerts)
				r.Get("/audit", deps.AuditHandler.HandleListAudit)
			})
		})

		// Agent-level operations
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", deps.AgentHandler.HandleGetAgent)
			r.Get("/usage", deps.AgentHandler.HandleGetUsage)
			r.With(deps.AuthMiddleware.RequireRole(appmw.RoleOwner, appmw.RoleAdmin)).
				Post("/reset", deps.AgentHandler.HandleResetPeriod)
			r.With(deps.AuthMiddleware.RequireRole(appmw.RoleOwner, appmw.RoleAdmin)).
				Post("/status", deps.AgentHandler.HandleChangeStatus)
		})

		// Alert lifecycle
		r.Route("/alerts/{alertID}", func(r chi.Router) {
			r.Post("/read", deps.AlertHandler.HandleMarkRead)
			r.Post("/resolve", deps.AlertHandler.HandleResolve)
		})

		// Audit by resource
		r.Get("/audit/resources/{resourceID}", deps.AuditHandler.HandleListResourceAudit)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
