package app

import (
	"context"
	"fmt"

	"github.com/agencydesk/spendguard/config"
	"github.com/agencydesk/spendguard/handlers"
	"github.com/agencydesk/spendguard/middleware"
	"github.com/agencydesk/spendguard/repositories"
	"github.com/agencydesk/spendguard/repositories/postgres"
	"github.com/agencydesk/spendguard/services/accounts"
	"github.com/agencydesk/spendguard/services/alerts"
	"github.com/agencydesk/spendguard/services/audit"
	"github.com/agencydesk/spendguard/services/budget"
	"github.com/agencydesk/spendguard/services/guard"
	"github.com/agencydesk/spendguard/services/ledger"
	"github.com/agencydesk/spendguard/services/outbox"
	"github.com/agencydesk/spendguard/services/velocity"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	LedgerService   *ledger.LedgerService
	BudgetService   *budget.BudgetService
	VelocityService *velocity.VelocityService
	AlertService    *alerts.AlertService
	AuditService    *audit.AuditService
	GuardService    *guard.GuardService
	AccountService  *accounts.AccountService
	Dispatcher      *outbox.Dispatcher

	// Handlers
	LedgerHandler     *handlers.LedgerHandler
	AgentHandler      *handlers.AgentHandler
	SettlementHandler *handlers.SettlementHandler
	AlertHandler      *handlers.AlertHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	cancelWorkers context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initServices(cfg)
	deps.initHandlers()
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, factory, and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initServices initializes all domain services
func (d *Dependencies) initServices(cfg *config.Config) {
	d.LedgerService = ledger.NewLedgerService(d.Repos, d.TxManager, d.Logger)
	d.BudgetService = budget.NewBudgetService(d.Repos, d.TxManager, d.Logger)
	d.VelocityService = velocity.NewVelocityService(d.Repos, d.TxManager, d.Logger)
	d.AlertService = alerts.NewAlertService(d.Repos, d.Logger)
	d.AuditService = audit.NewAuditService(d.Repos.AuditLog, d.Logger)
	d.AccountService = accounts.NewAccountService(d.Repos, d.Logger)
	d.GuardService = guard.NewGuardService(d.Repos, d.TxManager, d.BudgetService, d.VelocityService, d.AlertService, d.Logger)
	d.Dispatcher = outbox.NewDispatcher(d.Repos, d.TxManager, outbox.NewLoggingPublisher(d.Logger), outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, d.Logger)

	d.Logger.Info("services initialized")
}

// initHandlers initializes all HTTP handlers
func (d *Dependencies) initHandlers() {
	d.LedgerHandler = handlers.NewLedgerHandler(d.LedgerService, d.Logger)
	d.AgentHandler = handlers.NewAgentHandler(d.AccountService, d.BudgetService, d.VelocityService, d.Logger)
	d.SettlementHandler = handlers.NewSettlementHandler(d.GuardService, d.Logger)
	d.AlertHandler = handlers.NewAlertHandler(d.AlertService, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditService, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB, d.Logger)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("jwt secret not configured, protected routes will reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	validator := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("auth middleware initialized")
}

// StartWorkers launches the background sweep and outbox workers.
// They run until Close is called or the parent context is cancelled.
func (d *Dependencies) StartWorkers(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	d.cancelWorkers = cancel

	go d.BudgetService.StartSweepWorker(workerCtx, d.Config.Guard.SweepInterval)
	go d.Dispatcher.Start(workerCtx)

	d.Logger.Info("background workers started",
		zap.Duration("sweep_interval", d.Config.Guard.SweepInterval),
		zap.Duration("outbox_poll_interval", d.Config.Outbox.PollInterval))
}

// rejectAllValidator rejects all tokens (used when JWT is not configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.cancelWorkers != nil {
		d.cancelWorkers()
	}

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
