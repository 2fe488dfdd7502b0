// Package memory provides in-memory repository implementations used by
// service tests. Behavior mirrors the postgres package where services
// depend on it: missing rows return sql.ErrNoRows and a duplicate
// settlement insert returns a unique-violation pq error.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/agencydesk/spendguard/models"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store holds all in-memory state behind one mutex. The Fail* fields
// inject errors into specific operations for failure-path tests.
type Store struct {
	mu sync.Mutex

	// txMu serializes snapshot transactions the way row locks
	// serialize concurrent writers against postgres: held from Begin
	// until Commit or Rollback
	txMu sync.Mutex

	orgs        map[uuid.UUID]*models.Organization
	agents      map[uuid.UUID]*models.Agent
	settlements map[string]*models.Settlement
	alerts      map[uuid.UUID]*models.Alert
	auditLog    []*models.AuditRecord
	events      map[uuid.UUID]*models.OutboxEvent

	FailAuditInsert      error
	FailSettlementInsert error
	FailUpdateSpend      error
	FailSetBalance       error
	FailMarkFailed       error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		orgs:        make(map[uuid.UUID]*models.Organization),
		agents:      make(map[uuid.UUID]*models.Agent),
		settlements: make(map[string]*models.Settlement),
		alerts:      make(map[uuid.UUID]*models.Alert),
		events:      make(map[uuid.UUID]*models.OutboxEvent),
	}
}

// Repositories returns the store wrapped in the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Organizations: (*orgRepo)(s),
		Agents:        (*agentRepo)(s),
		Settlements:   (*settlementRepo)(s),
		Alerts:        (*alertRepo)(s),
		AuditLog:      (*auditRepo)(s),
		Outbox:        (*outboxRepo)(s),
	}
}

// TxManager returns a transaction manager backed by store snapshots:
// Rollback restores the state captured at Begin, so failure paths
// observe the same all-or-nothing behavior as the postgres manager
func (s *Store) TxManager() repositories.TransactionManager {
	return &txManager{store: s}
}

// SeedOrganization stores an organization
func (s *Store) SeedOrganization(org *models.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
}

// SeedAgent stores an agent
func (s *Store) SeedAgent(agent *models.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
}

// SeedSettlement stores a settlement
func (s *Store) SeedSettlement(st *models.Settlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements[st.SettlementID] = st
}

// SeedEvent stores an outbox event
func (s *Store) SeedEvent(event *models.OutboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
}

// Organization returns a stored organization
func (s *Store) Organization(id uuid.UUID) *models.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgs[id]
}

// Agent returns a stored agent
func (s *Store) Agent(id uuid.UUID) *models.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[id]
}

// Settlement returns a stored settlement by network identifier
func (s *Store) Settlement(settlementID string) *models.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settlements[settlementID]
}

// Alerts returns all stored alerts
func (s *Store) Alerts() []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	return out
}

// AuditRecords returns all stored audit records in insertion order
func (s *Store) AuditRecords() []*models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditRecord(nil), s.auditLog...)
}

// Events returns all stored outbox events
func (s *Store) Events() []*models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OutboxEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	return out
}

// snapshot transaction

type storeState struct {
	orgs        map[uuid.UUID]*models.Organization
	agents      map[uuid.UUID]*models.Agent
	settlements map[string]*models.Settlement
	alerts      map[uuid.UUID]*models.Alert
	auditLog    []*models.AuditRecord
	events      map[uuid.UUID]*models.OutboxEvent
}

func (s *Store) snapshot() *storeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &storeState{
		orgs:        make(map[uuid.UUID]*models.Organization, len(s.orgs)),
		agents:      make(map[uuid.UUID]*models.Agent, len(s.agents)),
		settlements: make(map[string]*models.Settlement, len(s.settlements)),
		alerts:      make(map[uuid.UUID]*models.Alert, len(s.alerts)),
		auditLog:    append([]*models.AuditRecord(nil), s.auditLog...),
		events:      make(map[uuid.UUID]*models.OutboxEvent, len(s.events)),
	}
	for id, org := range s.orgs {
		copied := *org
		state.orgs[id] = &copied
	}
	for id, agent := range s.agents {
		copied := *agent
		state.agents[id] = &copied
	}
	for id, st := range s.settlements {
		copied := *st
		state.settlements[id] = &copied
	}
	for id, alert := range s.alerts {
		copied := *alert
		state.alerts[id] = &copied
	}
	for id, event := range s.events {
		copied := *event
		state.events[id] = &copied
	}
	return state
}

func (s *Store) restore(state *storeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs = state.orgs
	s.agents = state.agents
	s.settlements = state.settlements
	s.alerts = state.alerts
	s.auditLog = state.auditLog
	s.events = state.events
}

type txManager struct {
	store *Store
}

type tx struct {
	ctx   context.Context
	store *Store
	state *storeState
	done  bool
}

func (m *txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	m.store.txMu.Lock()
	return &tx{ctx: ctx, store: m.store, state: m.store.snapshot()}, nil
}

func (m *txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	t, _ := m.Begin(ctx)
	if err := fn(t.Context(), t); err != nil {
		_ = t.Rollback()
		return err
	}
	return t.Commit()
}

func (t *tx) Commit() error {
	t.release()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.store.restore(t.state)
	t.release()
	return nil
}

// release unlocks the serialization mutex exactly once, so the
// rollback-after-commit in the service helpers stays a no-op
func (t *tx) release() {
	if t.done {
		return
	}
	t.done = true
	t.store.txMu.Unlock()
}

func (t *tx) Context() context.Context { return t.ctx }

// organization repository

type orgRepo Store

func (r *orgRepo) Create(ctx context.Context, org *models.Organization) error {
	(*Store)(r).SeedOrganization(org)
	return nil
}

func (r *orgRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *org
	return &copied, nil
}

func (r *orgRepo) GetBalanceForUpdate(ctx context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return org.BalanceCents, nil
}

func (r *orgRepo) SetBalance(ctx context.Context, id uuid.UUID, balanceCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSetBalance != nil {
		return r.FailSetBalance
	}
	org, ok := r.orgs[id]
	if !ok {
		return sql.ErrNoRows
	}
	org.BalanceCents = balanceCents
	org.UpdatedAt = time.Now()
	return nil
}

func (r *orgRepo) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		copied := *org
		out = append(out, &copied)
	}
	return out, nil
}

// agent repository

type agentRepo Store

func (r *agentRepo) Create(ctx context.Context, agent *models.Agent) error {
	(*Store)(r).SeedAgent(agent)
	return nil
}

func (r *agentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *agent
	return &copied, nil
}

func (r *agentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return r.GetByID(ctx, id)
}

func (r *agentRepo) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Agent
	for _, agent := range r.agents {
		if agent.OrgID == orgID {
			copied := *agent
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *agentRepo) UpdateSpend(ctx context.Context, id uuid.UUID, spendCents int64, resetDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdateSpend != nil {
		return r.FailUpdateSpend
	}
	agent, ok := r.agents[id]
	if !ok {
		return sql.ErrNoRows
	}
	agent.CurrentSpendCents = spendCents
	agent.ResetDate = resetDate
	agent.UpdatedAt = time.Now()
	return nil
}

func (r *agentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return sql.ErrNoRows
	}
	agent.Status = status
	agent.StatusChangedAt = changedAt
	agent.UpdatedAt = time.Now()
	return nil
}

func (r *agentRepo) ListExpiredPeriods(ctx context.Context, now time.Time, limit int) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Agent
	for _, agent := range r.agents {
		if agent.PeriodExpired(now) {
			copied := *agent
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResetDate.Before(out[j].ResetDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// settlement repository

type settlementRepo Store

func (r *settlementRepo) Insert(ctx context.Context, st *models.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSettlementInsert != nil {
		return r.FailSettlementInsert
	}
	if _, exists := r.settlements[st.SettlementID]; exists {
		return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	r.settlements[st.SettlementID] = st
	return nil
}

func (r *settlementRepo) GetBySettlementID(ctx context.Context, settlementID string) (*models.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.settlements[settlementID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *st
	return &copied, nil
}

func (r *settlementRepo) SumAmountSince(ctx context.Context, agentID uuid.UUID, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, st := range r.settlements {
		if st.AgentID == agentID && !st.OccurredAt.Before(since) {
			sum += st.AmountCents
		}
	}
	return sum, nil
}

// alert repository

type alertRepo Store

func (r *alertRepo) Upsert(ctx context.Context, alert *models.Alert) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.alerts {
		if existing.DedupKey == alert.DedupKey && existing.ResolvedAt == nil {
			existing.Severity = alert.Severity
			existing.Title = alert.Title
			existing.Message = alert.Message
			existing.TransactionID = alert.TransactionID
			existing.CreatedAt = alert.CreatedAt
			return false, nil
		}
	}
	r.alerts[alert.ID] = alert
	return true, nil
}

func (r *alertRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *alert
	return &copied, nil
}

func (r *alertRepo) GetByOrgID(ctx context.Context, orgID uuid.UUID, unresolvedOnly bool, limit int) ([]*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Alert
	for _, alert := range r.alerts {
		if alert.OrgID != orgID {
			continue
		}
		if unresolvedOnly && alert.ResolvedAt != nil {
			continue
		}
		copied := *alert
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *alertRepo) MarkRead(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return sql.ErrNoRows
	}
	alert.IsRead = true
	return nil
}

func (r *alertRepo) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok || alert.ResolvedAt != nil {
		return sql.ErrNoRows
	}
	alert.ResolvedAt = &at
	return nil
}

// audit repository

type auditRepo Store

func (r *auditRepo) Insert(ctx context.Context, rec *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAuditInsert != nil {
		return r.FailAuditInsert
	}
	r.auditLog = append(r.auditLog, rec)
	return nil
}

func (r *auditRepo) GetByOrgID(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].OrgID == orgID {
			out = append(out, r.auditLog[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *auditRepo) GetByResourceID(ctx context.Context, orgID, resourceID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].OrgID == orgID && r.auditLog[i].ResourceID == resourceID {
			out = append(out, r.auditLog[i])
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// outbox repository

type outboxRepo Store

func (r *outboxRepo) Insert(ctx context.Context, event *models.OutboxEvent) error {
	(*Store)(r).SeedEvent(event)
	return nil
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OutboxEvent
	for _, event := range r.events {
		if event.Status == models.OutboxStatusPending {
			copied := *event
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return sql.ErrNoRows
	}
	event.Status = models.OutboxStatusPublished
	event.PublishedAt = &at
	event.UpdatedAt = at
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailMarkFailed != nil {
		return r.FailMarkFailed
	}
	event, ok := r.events[id]
	if !ok {
		return sql.ErrNoRows
	}
	event.Attempts++
	event.LastError = &lastError
	if event.Attempts >= maxAttempts {
		event.Status = models.OutboxStatusFailed
	}
	event.UpdatedAt = time.Now()
	return nil
}
