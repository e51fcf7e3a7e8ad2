package config

import (
	"context"

	"github.com/draftea/pizza-saga/delivery-service/application"
	"github.com/draftea/pizza-saga/delivery-service/domain"
	"github.com/draftea/pizza-saga/delivery-service/handlers"
	"github.com/draftea/pizza-saga/delivery-service/infrastructure"
	"github.com/draftea/pizza-saga/shared/events"
	sharedinfra "github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/saga"
	"github.com/draftea/pizza-saga/shared/simulation"
	"go.uber.org/zap"
)

type Dependencies struct {
	Store *participant.Store[*domain.Delivery]

	AssignDelivery *application.AssignDelivery
	GetDelivery    *application.GetDelivery

	DeliveryHandlers *handlers.DeliveryHandlers
	EventRouter      *saga.Router

	Transport *sharedinfra.Transport
}

// BuildDependencies wires the delivery service on top of an open transport
func BuildDependencies(ctx context.Context, cfg *Config, transport *sharedinfra.Transport, logger *zap.Logger) (*Dependencies, error) {
	store, err := participant.OpenStore(ctx, cfg.Infrastructure, participant.StoreOptions[*domain.Delivery]{
		Name:        "delivery",
		Migrations:  infrastructure.Migrations,
		NewPostgres: infrastructure.NewPostgresDeliveryRepository,
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

	deps.AssignDelivery = application.NewAssignDelivery(store.Repository, transport.Bus, simulator, nil, logger)
	deps.GetDelivery = application.NewGetDelivery(store.Repository)

	deps.DeliveryHandlers = handlers.NewDeliveryHandlers(deps.GetDelivery, logger)
	deps.EventRouter = saga.NewRouter(logger)
	handlers.NewDeliveryEventHandlers(deps.AssignDelivery).Register(deps.EventRouter)

	return deps, nil
}

// Subscribe starts consuming the delivery command queue
func (d *Dependencies) Subscribe(ctx context.Context) error {
	return d.Transport.Bus.Subscribe(ctx, events.DeliveryCommandQueue, d.EventRouter)
}

func (d *Dependencies) Close() error {
	return d.Store.Close()
}
