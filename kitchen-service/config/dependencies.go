package config

import (
	"context"

	"github.com/draftea/pizza-saga/kitchen-service/application"
	"github.com/draftea/pizza-saga/kitchen-service/domain"
	"github.com/draftea/pizza-saga/kitchen-service/handlers"
	"github.com/draftea/pizza-saga/kitchen-service/infrastructure"
	"github.com/draftea/pizza-saga/shared/events"
	sharedinfra "github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/saga"
	"github.com/draftea/pizza-saga/shared/simulation"
	"go.uber.org/zap"
)

type Dependencies struct {
	Store *participant.Store[*domain.Ticket]

	PreparePizza *application.PreparePizza
	GetTicket    *application.GetTicket

	KitchenHandlers *handlers.KitchenHandlers
	EventRouter     *saga.Router

	Transport *sharedinfra.Transport
}

// BuildDependencies wires the kitchen service on top of an open transport
func BuildDependencies(ctx context.Context, cfg *Config, transport *sharedinfra.Transport, logger *zap.Logger) (*Dependencies, error) {
	store, err := participant.OpenStore(ctx, cfg.Infrastructure, participant.StoreOptions[*domain.Ticket]{
		Name:        "kitchen",
		Migrations:  infrastructure.Migrations,
		NewPostgres: infrastructure.NewPostgresTicketRepository,
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

	deps.PreparePizza = application.NewPreparePizza(store.Repository, transport.Bus, simulator, logger)
	deps.GetTicket = application.NewGetTicket(store.Repository)

	deps.KitchenHandlers = handlers.NewKitchenHandlers(deps.GetTicket, logger)
	deps.EventRouter = saga.NewRouter(logger)
	handlers.NewKitchenEventHandlers(deps.PreparePizza).Register(deps.EventRouter)

	return deps, nil
}

// Subscribe starts consuming the kitchen command queue
func (d *Dependencies) Subscribe(ctx context.Context) error {
	return d.Transport.Bus.Subscribe(ctx, events.KitchenCommandQueue, d.EventRouter)
}

func (d *Dependencies) Close() error {
	return d.Store.Close()
}
