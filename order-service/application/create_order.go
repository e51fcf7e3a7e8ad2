package application

import (
	"context"

	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CreateOrderCommand represents the command to create an order
type CreateOrderCommand struct {
	CustomerID      string `json:"customer_id"`
	PizzaType       string `json:"pizza_type"`
	Quantity        int    `json:"quantity"`
	DeliveryAddress string `json:"delivery_address"`
}

// CreateOrder validates the order and inserts it already in PAYMENT_PENDING, with the
// ProcessPayment command in its outbox, so the order and the command it starts are one
// write. A failed publish is left to the outbox relay and the order is still returned.
func (o *Orchestrator) CreateOrder(ctx context.Context, cmd *CreateOrderCommand) (*OrderResponse, error) {
	order, err := domain.NewOrder(cmd.CustomerID, cmd.PizzaType, cmd.Quantity, cmd.DeliveryAddress)
	if err != nil {
		return nil, err
	}
	if err := order.StartPayment(); err != nil {
		return nil, err
	}

	payment := events.NewProcessPayment(events.ProcessPaymentCommand{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.Amount,
	})
	order.Enqueue(payment, o.now().Add(o.claimTTL))

	if err := o.orders.Create(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to save order")
	}

	log := o.logger.With(zap.String("order_id", order.ID.String()))
	log.Info("order created",
		zap.String("customer_id", order.CustomerID),
		zap.String("pizza_type", order.PizzaType),
		zap.Int("quantity", order.Quantity),
		zap.Stringer("amount", order.Amount),
		zap.String("status", order.Status.String()),
	)
	telemetry.RecordCounter(ctx, "saga_transitions_total", "Order status transitions", 1,
		attribute.String("from", domain.OrderStatusCreated.String()),
		attribute.String("to", order.Status.String()),
	)

	if err := o.dispatch(ctx, log, order.ID, []*events.Event{payment}); err != nil {
		log.Warn("payment command left for the outbox relay", zap.Error(err))
	}

	return NewOrderResponse(order), nil
}
