package config

import (
	"context"

	"github.com/draftea/pizza-saga/order-service/application"
	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/order-service/handlers"
	"github.com/draftea/pizza-saga/order-service/infrastructure"
	sharedconfig "github.com/draftea/pizza-saga/shared/config"
	"github.com/draftea/pizza-saga/shared/events"
	sharedinfra "github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/draftea/pizza-saga/shared/saga"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Dependencies struct {
	// Database, nil with the memory storage driver
	DB *sqlx.DB

	// Repositories
	OrderRepository domain.OrderRepository
	Journal         events.Journal

	// Use Cases
	Orchestrator *application.Orchestrator
	GetOrder     *application.GetOrder
	OutboxRelay  *application.OutboxRelay

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	EventRouter *saga.Router

	// Infrastructure
	Transport *sharedinfra.Transport
}

// BuildDependencies wires the order service on top of an open transport. The transport is
// owned by the caller.
func BuildDependencies(ctx context.Context, cfg *Config, transport *sharedinfra.Transport, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{Transport: transport}

	switch cfg.Storage.Driver {
	case sharedconfig.StorageMemory:
		deps.OrderRepository = infrastructure.NewMemoryOrderRepository()
		deps.Journal = sharedinfra.NewMemorySagaJournal()

	case sharedconfig.StoragePostgres:
		db, err := sharedinfra.ConnectPostgres(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		deps.DB = db

		if cfg.Database.Migrate {
			if err := sharedinfra.Migrate(ctx, db, infrastructure.Migrations, "migrations"); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		deps.OrderRepository = infrastructure.NewPostgresOrderRepository(db)
		deps.Journal = sharedinfra.NewPostgresSagaJournal(db)

	default:
		return nil, errors.Errorf("order-service does not support storage driver %q", cfg.Storage.Driver)
	}

	publisher := saga.NewJournalingPublisher(transport.Bus, deps.Journal, logger)

	// Initialize use cases
	deps.Orchestrator = application.NewOrchestrator(deps.OrderRepository, publisher, logger).
		WithMaxRetries(cfg.Saga.MaxRetries).
		WithClaimTTL(cfg.Saga.OutboxClaimTTL)
	deps.OutboxRelay = application.NewOutboxRelay(deps.Orchestrator, cfg.Saga.OutboxInterval, logger)
	deps.GetOrder = application.NewGetOrder(deps.OrderRepository, deps.Journal)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.Orchestrator, deps.GetOrder, logger)
	deps.EventRouter = saga.NewRouter(logger).WithJournal(deps.Journal)
	handlers.NewOrderEventHandlers(deps.Orchestrator).Register(deps.EventRouter)

	return deps, nil
}

// Subscribe starts consuming the order event queue and relaying the outbox
func (d *Dependencies) Subscribe(ctx context.Context) error {
	if err := d.Transport.Bus.Subscribe(ctx, events.OrderEventQueue, d.EventRouter); err != nil {
		return err
	}
	return d.OutboxRelay.Start(ctx)
}

// Close closes the database. The transport is closed by its owner.
func (d *Dependencies) Close() error {
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			return errors.Wrap(err, "failed to close database")
		}
	}
	return nil
}
