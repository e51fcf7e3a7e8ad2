package config

import (
	"context"

	"github.com/draftea/pizza-saga/payments-service/application"
	"github.com/draftea/pizza-saga/payments-service/domain"
	"github.com/draftea/pizza-saga/payments-service/handlers"
	"github.com/draftea/pizza-saga/payments-service/infrastructure"
	"github.com/draftea/pizza-saga/shared/events"
	sharedinfra "github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/saga"
	"github.com/draftea/pizza-saga/shared/simulation"
	"go.uber.org/zap"
)

type Dependencies struct {
	// Repositories
	Store *participant.Store[*domain.Payment]

	// Use Cases
	ProcessPayment *application.ProcessPayment
	RefundPayment  *application.RefundPayment
	GetPayment     *application.GetPayment

	// HTTP Handlers
	PaymentHandlers *handlers.PaymentHandlers

	// Event Handlers
	EventRouter *saga.Router

	// Infrastructure
	Transport *sharedinfra.Transport
}

// BuildDependencies wires the payments service on top of an open transport. The transport
// is owned by the caller.
func BuildDependencies(ctx context.Context, cfg *Config, transport *sharedinfra.Transport, logger *zap.Logger) (*Dependencies, error) {
	store, err := participant.OpenStore(ctx, cfg.Infrastructure, participant.StoreOptions[*domain.Payment]{
		Name:        "payment",
		Migrations:  infrastructure.Migrations,
		NewPostgres: infrastructure.NewPostgresPaymentRepository,
	})
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Store: store, Transport: transport}

	simulator := simulation.New(simulation.Policy{
		Enabled:     cfg.Simulation.Enabled,
		FailureRate: cfg.Simulation.FailureRate,
		Delay:       cfg.Simulation.Delay,
	})

	// Initialize use cases
	deps.ProcessPayment = application.NewProcessPayment(store.Repository, transport.Bus, simulator, logger)
	deps.RefundPayment = application.NewRefundPayment(store.Repository, transport.Bus, cfg.Simulation.RefundDelay, logger)
	deps.GetPayment = application.NewGetPayment(store.Repository)

	// Initialize handlers
	deps.PaymentHandlers = handlers.NewPaymentHandlers(deps.GetPayment, logger)
	deps.EventRouter = saga.NewRouter(logger)
	handlers.NewPaymentEventHandlers(deps.ProcessPayment, deps.RefundPayment).Register(deps.EventRouter)

	return deps, nil
}

// Subscribe starts consuming the payment command queue
func (d *Dependencies) Subscribe(ctx context.Context) error {
	return d.Transport.Bus.Subscribe(ctx, events.PaymentCommandQueue, d.EventRouter)
}

// Close closes the store. The transport is closed by its owner.
func (d *Dependencies) Close() error {
	return d.Store.Close()
}
