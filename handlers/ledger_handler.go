package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agencydesk/spendguard/middleware"
	"github.com/agencydesk/spendguard/services/ledger"
	"github.com/agencydesk/spendguard/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FundsRequest is the body for manual fund operations
type FundsRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// BalanceResponse reports an organization balance
type BalanceResponse struct {
	OrgID        uuid.UUID `json:"org_id"`
	BalanceCents int64     `json:"balance_cents"`
}

// LedgerHandler handles organization balance HTTP requests
type LedgerHandler struct {
	ledger *ledger.LedgerService
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledgerSvc *ledger.LedgerService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledgerSvc,
		logger: logger,
	}
}

// HandleAddFunds handles POST /v1/organizations/{orgID}/funds
func (h *LedgerHandler) HandleAddFunds(w http.ResponseWriter, r *http.Request) {
	h.handleFundsMutation(w, r, h.ledger.AddFunds)
}

// HandleDeductFunds handles POST /v1/organizations/{orgID}/deductions
func (h *LedgerHandler) HandleDeductFunds(w http.ResponseWriter, r *http.Request) {
	h.handleFundsMutation(w, r, h.ledger.DeductFunds)
}

// HandleGetBalance handles GET /v1/organizations/{orgID}/balance
func (h *LedgerHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgFromRequest(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), orgID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, BalanceResponse{OrgID: orgID, BalanceCents: balance})
}

func (h *LedgerHandler) handleFundsMutation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, orgID uuid.UUID, amountCents int64, actor string) (int64, error)) {
	orgID, ok := h.orgFromRequest(w, r)
	if !ok {
		return
	}

	var req FundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := middleware.GetClaimsFromContext(r.Context()).Actor()
	balance, err := op(r.Context(), orgID, req.AmountCents, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, BalanceResponse{OrgID: orgID, BalanceCents: balance})
}

// orgFromRequest parses the orgID path parameter and enforces that it
// matches the caller's tenant
func (h *LedgerHandler) orgFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid organization ID", nil)
		return uuid.Nil, false
	}

	if tenant := middleware.GetOrgIDFromContext(r.Context()); tenant != uuid.Nil && tenant != orgID {
		_ = utils.WriteForbidden(w, "Organization mismatch")
		return uuid.Nil, false
	}

	return orgID, true
}
