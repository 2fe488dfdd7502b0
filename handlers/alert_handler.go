package handlers

import (
	"net/http"
	"strconv"

	"github.com/agencydesk/spendguard/middleware"
	"github.com/agencydesk/spendguard/services/alerts"
	"github.com/agencydesk/spendguard/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertHandler handles alert listing and lifecycle requests
type AlertHandler struct {
	alerts *alerts.AlertService
	logger *zap.Logger
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alertSvc *alerts.AlertService, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alertSvc,
		logger: logger,
	}
}

// HandleListAlerts handles GET /v1/organizations/{orgID}/alerts
func (h *AlertHandler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid organization ID", nil)
		return
	}
	if tenant := middleware.GetOrgIDFromContext(r.Context()); tenant != uuid.Nil && tenant != orgID {
		_ = utils.WriteForbidden(w, "Organization mismatch")
		return
	}

	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			_ = utils.WriteBadRequest(w, "Invalid limit parameter", nil)
			return
		}
	}

	list, err := h.alerts.List(r.Context(), orgID, unresolvedOnly, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, list)
}

// HandleMarkRead handles POST /v1/alerts/{alertID}/read
func (h *AlertHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	alertID, ok := h.tenantAlert(w, r)
	if !ok {
		return
	}

	if err := h.alerts.MarkRead(r.Context(), alertID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleResolve handles POST /v1/alerts/{alertID}/resolve
func (h *AlertHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	alertID, ok := h.tenantAlert(w, r)
	if !ok {
		return
	}

	if err := h.alerts.Resolve(r.Context(), alertID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// tenantAlert parses the alert ID from the URL and verifies the alert
// belongs to the caller's organization, writing the error response
// itself when the check fails
func (h *AlertHandler) tenantAlert(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid alert ID", nil)
		return uuid.Nil, false
	}

	alert, err := h.alerts.Get(r.Context(), alertID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return uuid.Nil, false
	}
	if tenant := middleware.GetOrgIDFromContext(r.Context()); tenant != uuid.Nil && tenant != alert.OrgID {
		_ = utils.WriteForbidden(w, "Organization mismatch")
		return uuid.Nil, false
	}

	return alertID, true
}
