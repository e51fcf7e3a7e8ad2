package application

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/draftea/pizza-saga/delivery-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DeclineReason = "No drivers available in the area"
	ErrorPrefix   = "Delivery processing error"
)

// DriverPicker returns the driver an order is handed to
type DriverPicker func() string

// RandomDriver picks one of a hundred simulated drivers
func RandomDriver() string {
	return fmt.Sprintf("DRIVER-%03d", rand.IntN(100))
}

type deliveryProtocol struct {
	pickDriver DriverPicker
}

func (p deliveryProtocol) Complete(d *domain.Delivery) error { return d.Assign(p.pickDriver()) }

func (deliveryProtocol) Fail(d *domain.Delivery, reason string) error { return d.Fail(reason) }

func (deliveryProtocol) SuccessEvent(d *domain.Delivery) *events.Event {
	return events.NewDeliveryAssigned(events.DeliveryAssignedEvent{OrderID: d.OrderID, DriverID: d.DriverID})
}

func (deliveryProtocol) FailureEvent(d *domain.Delivery, reason string) *events.Event {
	return events.NewDeliveryFailed(events.DeliveryFailedEvent{OrderID: d.OrderID, Reason: reason})
}

// AssignDelivery assigns a driver to an order once
type AssignDelivery struct {
	handler *participant.Handler[*domain.Delivery]
}

// NewAssignDelivery creates a new AssignDelivery use case. A nil picker uses RandomDriver.
func NewAssignDelivery(
	deliveryRepository domain.DeliveryRepository,
	eventPublisher events.Publisher,
	simulator *simulation.Simulator,
	pickDriver DriverPicker,
	logger *zap.Logger,
) *AssignDelivery {
	if pickDriver == nil {
		pickDriver = RandomDriver
	}

	return &AssignDelivery{
		handler: participant.NewHandler[*domain.Delivery](
			participant.Config{Name: "delivery", DeclineReason: DeclineReason, ErrorPrefix: ErrorPrefix},
			deliveryRepository,
			deliveryProtocol{pickDriver: pickDriver},
			eventPublisher,
			simulator,
			logger,
		),
	}
}

// Execute runs the command. A malformed command is rejected.
func (uc *AssignDelivery) Execute(ctx context.Context, cmd events.AssignDeliveryCommand) error {
	delivery, err := domain.NewDelivery(cmd.OrderID, cmd.DeliveryAddress)
	if err != nil {
		return errors.Wrap(events.ErrRejected, err.Error())
	}
	return uc.handler.Handle(ctx, delivery)
}
