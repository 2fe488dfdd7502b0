package repositories

import (
	"context"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/google/uuid"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// OrganizationRepository handles organization data operations
type OrganizationRepository interface {
	// Create creates a new organization
	Create(ctx context.Context, org *models.Organization) error

	// GetByID retrieves an organization by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)

	// GetBalanceForUpdate reads the balance under a row lock. Must be
	// called inside a transaction; the lock serializes concurrent
	// mutations against the same organization.
	GetBalanceForUpdate(ctx context.Context, id uuid.UUID) (int64, error)

	// SetBalance writes a new balance for an organization
	SetBalance(ctx context.Context, id uuid.UUID, balanceCents int64) error

	// List retrieves all organizations with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Organization, error)
}

// AgentRepository handles agent data operations
type AgentRepository interface {
	// Create creates a new agent
	Create(ctx context.Context, agent *models.Agent) error

	// GetByID retrieves an agent by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)

	// GetForUpdate retrieves an agent under a row lock, serializing
	// concurrent spend accumulation and status transitions
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Agent, error)

	// GetByOrgID retrieves all agents for an organization
	GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error)

	// UpdateSpend writes accumulated spend and reset date
	UpdateSpend(ctx context.Context, id uuid.UUID, spendCents int64, resetDate time.Time) error

	// UpdateStatus writes a new circuit-breaker status
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus, changedAt time.Time) error

	// ListExpiredPeriods returns agents whose reset date has passed
	ListExpiredPeriods(ctx context.Context, now time.Time, limit int) ([]*models.Agent, error)
}

// SettlementRepository handles settlement data operations
type SettlementRepository interface {
	// Insert records a processed settlement. Returns a conflict error
	// when the settlement_id was already recorded.
	Insert(ctx context.Context, s *models.Settlement) error

	// GetBySettlementID retrieves a settlement by its network identifier
	GetBySettlementID(ctx context.Context, settlementID string) (*models.Settlement, error)

	// SumAmountSince sums settlement amounts for an agent with
	// occurred_at at or after the given instant
	SumAmountSince(ctx context.Context, agentID uuid.UUID, since time.Time) (int64, error)
}

// AlertRepository handles alert data operations
type AlertRepository interface {
	// Upsert inserts an alert or refreshes the open alert sharing its
	// dedup key, never creating a duplicate open alert. Returns whether
	// a new alert row was created.
	Upsert(ctx context.Context, alert *models.Alert) (bool, error)

	// GetByID retrieves an alert by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)

	// GetByOrgID retrieves alerts for an organization ordered by
	// severity then recency
	GetByOrgID(ctx context.Context, orgID uuid.UUID, unresolvedOnly bool, limit int) ([]*models.Alert, error)

	// MarkRead marks an alert as read
	MarkRead(ctx context.Context, id uuid.UUID) error

	// Resolve marks an alert resolved at the given time
	Resolve(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AuditRepository handles append-only audit trail operations
type AuditRepository interface {
	// Insert appends a new audit record
	Insert(ctx context.Context, rec *models.AuditRecord) error

	// GetByOrgID retrieves audit records for an organization with pagination
	GetByOrgID(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditRecord, error)

	// GetByResourceID retrieves audit records for a resource, scoped to
	// the owning organization
	GetByResourceID(ctx context.Context, orgID, resourceID uuid.UUID, limit int) ([]*models.AuditRecord, error)
}

// OutboxRepository handles reliable event delivery state
type OutboxRepository interface {
	// Insert enqueues a pending event
	Insert(ctx context.Context, event *models.OutboxEvent) error

	// ListPending returns pending events oldest first
	ListPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error)

	// MarkPublished records successful delivery
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed records a delivery failure; events exceeding
	// maxAttempts stay failed, otherwise return to pending
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Organizations OrganizationRepository
	Agents        AgentRepository
	Settlements   SettlementRepository
	Alerts        AlertRepository
	AuditLog      AuditRepository
	Outbox        OutboxRepository
}
