package handlers

import (
	"context"

	"github.com/draftea/pizza-saga/order-service/application"
	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/saga"
	"github.com/pkg/errors"
)

// OrderEventHandlers feeds participant events from the order event queue to the orchestrator
type OrderEventHandlers struct {
	orchestrator *application.Orchestrator
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(orchestrator *application.Orchestrator) *OrderEventHandlers {
	return &OrderEventHandlers{orchestrator: orchestrator}
}

// Register adds a handler for every participant event to router
func (h *OrderEventHandlers) Register(router *saga.Router) {
	o := h.orchestrator
	router.RegisterHandler(events.PaymentProcessedTopic, saga.Typed("payment-processed", rejectUnknown(o.HandlePaymentProcessed)))
	router.RegisterHandler(events.PaymentFailedTopic, saga.Typed("payment-failed", rejectUnknown(o.HandlePaymentFailed)))
	router.RegisterHandler(events.PaymentRefundedTopic, saga.Typed("payment-refunded", rejectUnknown(o.HandlePaymentRefunded)))
	router.RegisterHandler(events.PizzaPreparedTopic, saga.Typed("pizza-prepared", rejectUnknown(o.HandlePizzaPrepared)))
	router.RegisterHandler(events.KitchenFailedTopic, saga.Typed("kitchen-failed", rejectUnknown(o.HandleKitchenFailed)))
	router.RegisterHandler(events.DeliveryAssignedTopic, saga.Typed("delivery-assigned", rejectUnknown(o.HandleDeliveryAssigned)))
	router.RegisterHandler(events.DeliveryFailedTopic, saga.Typed("delivery-failed", rejectUnknown(o.HandleDeliveryFailed)))
}

// rejectUnknown turns an unknown order into a rejection, so the message is dead-lettered
// instead of redelivered forever.
func rejectUnknown[T any](fn func(context.Context, T) error) func(context.Context, T) error {
	return func(ctx context.Context, payload T) error {
		err := fn(ctx, payload)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return errors.Wrap(events.ErrRejected, err.Error())
		}
		return err
	}
}
