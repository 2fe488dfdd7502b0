package handlers

import (
	"net/http"
	"strconv"

	"github.com/agencydesk/spendguard/middleware"
	"github.com/agencydesk/spendguard/services/audit"
	"github.com/agencydesk/spendguard/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditHandler handles audit trail queries
type AuditHandler struct {
	audit  *audit.AuditService
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditSvc *audit.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  auditSvc,
		logger: logger,
	}
}

// HandleListAudit handles GET /v1/organizations/{orgID}/audit
func (h *AuditHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid organization ID", nil)
		return
	}
	if tenant := middleware.GetOrgIDFromContext(r.Context()); tenant != uuid.Nil && tenant != orgID {
		_ = utils.WriteForbidden(w, "Organization mismatch")
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	records, err := h.audit.List(r.Context(), orgID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, records)
}

// HandleListResourceAudit handles GET /v1/audit/resources/{resourceID}.
// The query is scoped to the caller's organization; there is no org in
// the URL, so a token without an organization cannot use this route.
func (h *AuditHandler) HandleListResourceAudit(w http.ResponseWriter, r *http.Request) {
	resourceID, err := uuid.Parse(chi.URLParam(r, "resourceID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid resource ID", nil)
		return
	}

	orgID := middleware.GetOrgIDFromContext(r.Context())
	if orgID == uuid.Nil {
		_ = utils.WriteForbidden(w, "Organization scope required")
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	records, err := h.audit.ListByResource(r.Context(), orgID, resourceID, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, records)
}

// queryInt parses an optional non-negative integer query parameter
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		_ = utils.WriteBadRequest(w, "Invalid "+name+" parameter", nil)
		return 0, false
	}
	return value, true
}
