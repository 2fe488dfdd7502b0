package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/repositories/postgres"
	"github.com/agencydesk/spendguard/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errAuditWrite marks a transaction failure caused only by the audit
// insert, so the caller can retry the mutation without the audit row.
var errAuditWrite = errors.New("audit write failed")

// LedgerService owns the prepaid organization balance. All mutations
// run under a row lock with a bounded wait, write an audit record in
// the same transaction, and reject any result that would leave the
// balance negative.
type LedgerService struct {
	repos  *repositories.Repositories
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(repos *repositories.Repositories, txMgr repositories.TransactionManager, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		repos:  repos,
		txMgr:  txMgr,
		logger: logger,
	}
}

// AddFunds credits an organization balance and returns the new balance
func (s *LedgerService) AddFunds(ctx context.Context, orgID uuid.UUID, amountCents int64, actor string) (int64, error) {
	if amountCents <= 0 {
		return 0, services.ErrInvalidAmount.WithDetail("amount_cents", amountCents)
	}
	return s.mutateBalance(ctx, orgID, amountCents, models.AuditActionFundsAdded, actor)
}

// DeductFunds debits an organization balance and returns the new
// balance. A debit that would overdraw the balance is rejected with
// an insufficient funds error and leaves the balance untouched.
func (s *LedgerService) DeductFunds(ctx context.Context, orgID uuid.UUID, amountCents int64, actor string) (int64, error) {
	if amountCents <= 0 {
		return 0, services.ErrInvalidAmount.WithDetail("amount_cents", amountCents)
	}
	return s.mutateBalance(ctx, orgID, -amountCents, models.AuditActionFundsDeducted, actor)
}

// GetBalance returns the current balance without locking
func (s *LedgerService) GetBalance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	org, err := s.repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		return 0, services.ErrOrganizationNotFound.WithDetail("org_id", orgID.String())
	}
	return org.BalanceCents, nil
}

// mutateBalance applies a signed delta under FOR UPDATE. On an audit
// insert failure the whole transaction rolls back and the mutation is
// retried once without the audit row; the gap is surfaced through an
// alert and an error log rather than by failing the mutation.
func (s *LedgerService) mutateBalance(ctx context.Context, orgID uuid.UUID, deltaCents int64, action models.AuditAction, actor string) (int64, error) {
	balance, err := s.applyDelta(ctx, orgID, deltaCents, action, actor, true)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, errAuditWrite) {
		return 0, s.classify(err, orgID)
	}

	s.logger.Error("audit write failed, retrying mutation without audit record",
		zap.String("org_id", orgID.String()),
		zap.String("action", string(action)),
		zap.Error(err))

	balance, retryErr := s.applyDelta(ctx, orgID, deltaCents, action, actor, false)
	if retryErr != nil {
		return 0, s.classify(retryErr, orgID)
	}

	s.raiseAuditGapAlert(ctx, orgID, action)
	return balance, nil
}

func (s *LedgerService) applyDelta(ctx context.Context, orgID uuid.UUID, deltaCents int64, action models.AuditAction, actor string, writeAudit bool) (int64, error) {
	return services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (int64, error) {
		before, err := s.repos.Organizations.GetBalanceForUpdate(ctx, orgID)
		if err != nil {
			return 0, err
		}

		after := before + deltaCents
		if after < 0 {
			return 0, services.ErrInsufficientFunds.
				WithDetail("balance_cents", before).
				WithDetail("requested_cents", -deltaCents)
		}

		if err := s.repos.Organizations.SetBalance(ctx, orgID, after); err != nil {
			return 0, err
		}

		if writeAudit {
			record := models.NewAuditRecord(orgID, action, "organization", orgID, actor).
				WithStates(models.BalanceSnapshot{BalanceCents: before}, models.BalanceSnapshot{BalanceCents: after})
			if err := s.repos.AuditLog.Insert(ctx, record); err != nil {
				return 0, fmt.Errorf("%w: %v", errAuditWrite, err)
			}
		}

		s.logger.Info("balance mutated",
			zap.String("org_id", orgID.String()),
			zap.String("action", string(action)),
			zap.Int64("delta_cents", deltaCents),
			zap.Int64("balance_cents", after))
		return after, nil
	})
}

// raiseAuditGapAlert records that a mutation committed without its
// audit row. Best effort: the mutation already succeeded.
func (s *LedgerService) raiseAuditGapAlert(ctx context.Context, orgID uuid.UUID, action models.AuditAction) {
	alert := models.NewAlert(orgID, uuid.Nil, models.AlertAuditWriteFailed, models.SeverityCritical,
		"Audit trail gap",
		fmt.Sprintf("A %s mutation committed without its audit record", action))
	if _, err := s.repos.Alerts.Upsert(ctx, alert); err != nil {
		s.logger.Error("failed to raise audit gap alert",
			zap.String("org_id", orgID.String()),
			zap.Error(err))
	}
}

func (s *LedgerService) classify(err error, orgID uuid.UUID) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if postgres.IsLockTimeout(err) {
		return services.ErrLockTimeout.WithDetail("org_id", orgID.String())
	}
	if postgres.IsCheckViolation(err) {
		return services.ErrInsufficientFunds.WithDetail("org_id", orgID.String())
	}
	return services.WrapInternal("ledger mutation failed", err)
}
