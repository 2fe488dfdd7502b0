package handlers

import (
	"net/http"
	"time"

	"github.com/agencydesk/spendguard/repositories/postgres"
	"github.com/agencydesk/spendguard/utils"
	"go.uber.org/zap"
)

// HealthHandler handles liveness and readiness probes
type HealthHandler struct {
	db     *postgres.DB
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *postgres.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger,
	}
}

// HandleLiveness handles GET /healthz
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Error("Readiness check failed", zap.Error(err))
		_ = utils.WriteServiceUnavailable(w, "Database unavailable", nil)
		return
	}

	stats := h.db.Stats()
	_ = utils.WriteOK(w, map[string]interface{}{
		"status":           "ready",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	})
}
