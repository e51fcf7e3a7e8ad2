package handlers

import (
	"github.com/draftea/pizza-saga/payments-service/application"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/saga"
)

// PaymentEventHandlers contains the payment command handlers
type PaymentEventHandlers struct {
	processPayment *application.ProcessPayment
	refundPayment  *application.RefundPayment
}

// NewPaymentEventHandlers creates new payment event handlers
func NewPaymentEventHandlers(
	processPayment *application.ProcessPayment,
	refundPayment *application.RefundPayment,
) *PaymentEventHandlers {
	return &PaymentEventHandlers{
		processPayment: processPayment,
		refundPayment:  refundPayment,
	}
}

// Register adds the payment commands to router
func (h *PaymentEventHandlers) Register(router *saga.Router) {
	router.RegisterHandler(events.ProcessPaymentCommandTopic, saga.Typed("process-payment", h.processPayment.Execute))
	router.RegisterHandler(events.RefundPaymentCommandTopic, saga.Typed("refund-payment", h.refundPayment.Execute))
}
