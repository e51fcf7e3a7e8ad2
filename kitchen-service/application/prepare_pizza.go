package application

import (
	"context"

	"github.com/draftea/pizza-saga/kitchen-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DeclineReason = "Out of ingredients or kitchen capacity full"
	ErrorPrefix   = "Kitchen processing error"
)

type kitchenProtocol struct{}

func (kitchenProtocol) Complete(t *domain.Ticket) error { return t.Prepare() }

func (kitchenProtocol) Fail(t *domain.Ticket, reason string) error { return t.Fail(reason) }

func (kitchenProtocol) SuccessEvent(t *domain.Ticket) *events.Event {
	return events.NewPizzaPrepared(events.PizzaPreparedEvent{OrderID: t.OrderID, KitchenID: t.ID})
}

func (kitchenProtocol) FailureEvent(t *domain.Ticket, reason string) *events.Event {
	return events.NewKitchenFailed(events.KitchenFailedEvent{OrderID: t.OrderID, Reason: reason})
}

// PreparePizza prepares the pizzas of an order once
type PreparePizza struct {
	handler *participant.Handler[*domain.Ticket]
}

// NewPreparePizza creates a new PreparePizza use case
func NewPreparePizza(
	ticketRepository domain.TicketRepository,
	eventPublisher events.Publisher,
	simulator *simulation.Simulator,
	logger *zap.Logger,
) *PreparePizza {
	return &PreparePizza{
		handler: participant.NewHandler[*domain.Ticket](
			participant.Config{Name: "kitchen", DeclineReason: DeclineReason, ErrorPrefix: ErrorPrefix},
			ticketRepository,
			kitchenProtocol{},
			eventPublisher,
			simulator,
			logger,
		),
	}
}

// Execute runs the command. A malformed command is rejected.
func (uc *PreparePizza) Execute(ctx context.Context, cmd events.PreparePizzaCommand) error {
	ticket, err := domain.NewTicket(cmd.OrderID, cmd.PizzaType, cmd.Quantity)
	if err != nil {
		return errors.Wrap(events.ErrRejected, err.Error())
	}
	return uc.handler.Handle(ctx, ticket)
}
