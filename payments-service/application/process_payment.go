package application

import (
	"context"

	"github.com/draftea/pizza-saga/payments-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DeclineReason = "Insufficient funds or card declined"
	ErrorPrefix   = "Payment processing error"
)

type paymentProtocol struct{}

func (paymentProtocol) Complete(p *domain.Payment) error {
	return p.Complete()
}

func (paymentProtocol) Fail(p *domain.Payment, reason string) error {
	return p.Fail(reason)
}

func (paymentProtocol) SuccessEvent(p *domain.Payment) *events.Event {
	return events.NewPaymentProcessed(events.PaymentProcessedEvent{
		OrderID:       p.OrderID,
		TransactionID: p.ID,
	})
}

func (paymentProtocol) FailureEvent(p *domain.Payment, reason string) *events.Event {
	return events.NewPaymentFailed(events.PaymentFailedEvent{
		OrderID: p.OrderID,
		Reason:  reason,
	})
}

// ProcessPayment charges the customer once per order
type ProcessPayment struct {
	handler *participant.Handler[*domain.Payment]
}

// NewProcessPayment creates a new ProcessPayment use case
func NewProcessPayment(
	paymentRepository domain.PaymentRepository,
	eventPublisher events.Publisher,
	simulator *simulation.Simulator,
	logger *zap.Logger,
) *ProcessPayment {
	return &ProcessPayment{
		handler: participant.NewHandler[*domain.Payment](
			participant.Config{Name: "payment", DeclineReason: DeclineReason, ErrorPrefix: ErrorPrefix},
			paymentRepository,
			paymentProtocol{},
			eventPublisher,
			simulator,
			logger,
		),
	}
}

// Execute runs the command. A malformed command is rejected, the bus must not redeliver it.
func (uc *ProcessPayment) Execute(ctx context.Context, cmd events.ProcessPaymentCommand) error {
	payment, err := domain.NewPayment(cmd.OrderID, cmd.CustomerID, cmd.Amount)
	if err != nil {
		return errors.Wrap(events.ErrRejected, err.Error())
	}
	return uc.handler.Handle(ctx, payment)
}
