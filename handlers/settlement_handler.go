package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agencydesk/spendguard/services/guard"
	"github.com/agencydesk/spendguard/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementWebhookRequest is the body posted by the card processor
// when a charge settles
type SettlementWebhookRequest struct {
	SettlementID string    `json:"settlement_id" validate:"required,min=1,max=255"`
	AgentID      string    `json:"agent_id" validate:"required,uuid"`
	AmountCents  int64     `json:"amount_cents" validate:"required,gt=0"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AuthorizeRequest is the body for synchronous pre-spend checks
type AuthorizeRequest struct {
	AgentID     string `json:"agent_id" validate:"required,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}

// SettlementHandler handles settlement webhooks and authorization checks
type SettlementHandler struct {
	guard  *guard.GuardService
	logger *zap.Logger
}

// NewSettlementHandler creates a new SettlementHandler
func NewSettlementHandler(guardSvc *guard.GuardService, logger *zap.Logger) *SettlementHandler {
	return &SettlementHandler{
		guard:  guardSvc,
		logger: logger,
	}
}

// HandleSettlement handles POST /v1/settlements
func (h *SettlementHandler) HandleSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid agent ID", nil)
		return
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	result, err := h.guard.ProcessSettlement(r.Context(), guard.SettlementRequest{
		SettlementID: req.SettlementID,
		AgentID:      agentID,
		AmountCents:  req.AmountCents,
		OccurredAt:   occurredAt,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if result.Duplicate {
		_ = utils.WriteOK(w, result)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandleAuthorize handles POST /v1/authorize
func (h *SettlementHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid agent ID", nil)
		return
	}

	result, err := h.guard.Authorize(r.Context(), guard.AuthorizationRequest{
		AgentID:     agentID,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}
