package application

import (
	"context"
	"time"

	"github.com/draftea/pizza-saga/payments-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxRefundConflicts = 5

// RefundPayment reverses the charge of an order the orchestrator cancelled
type RefundPayment struct {
	paymentRepository domain.PaymentRepository
	eventPublisher    events.Publisher
	delay             time.Duration
	logger            *zap.Logger
}

// NewRefundPayment creates a new RefundPayment use case. The reversal takes delay and never fails.
func NewRefundPayment(
	paymentRepository domain.PaymentRepository,
	eventPublisher events.Publisher,
	delay time.Duration,
	logger *zap.Logger,
) *RefundPayment {
	return &RefundPayment{
		paymentRepository: paymentRepository,
		eventPublisher:    eventPublisher,
		delay:             delay,
		logger:            logger.With(zap.String("participant", "payment")),
	}
}

// Execute refunds the payment of cmd.OrderID. Nothing to refund is not an error.
func (uc *RefundPayment) Execute(ctx context.Context, cmd events.RefundPaymentCommand) error {
	ctx, span := telemetry.StartSpan(ctx, "payment.refund",
		trace.WithAttributes(attribute.String("order_id", cmd.OrderID.String())),
	)
	defer span.End()

	log := uc.logger.With(zap.String("order_id", cmd.OrderID.String()))

	for attempt := 1; ; attempt++ {
		payment, err := uc.paymentRepository.FindByOrderID(ctx, cmd.OrderID)
		if err != nil {
			if errors.Is(err, participant.ErrNotFound) {
				log.Warn("no payment to refund, dropping command")
				uc.count(ctx, "dropped")
				return nil
			}
			span.RecordError(err)
			return errors.Wrap(err, "failed to find payment")
		}

		switch payment.Status {
		case domain.PaymentStatusRefunded:
			log.Info("payment already refunded, re-publishing")
			uc.count(ctx, "replayed")
			return uc.publish(ctx, payment)
		case domain.PaymentStatusCompleted:
		default:
			log.Warn("payment is not refundable, dropping command", zap.String("status", string(payment.Status)))
			uc.count(ctx, "dropped")
			return nil
		}

		if err := simulation.SleepOrDone(ctx, uc.delay); err != nil {
			return err
		}

		if err := payment.Refund(cmd.Reason); err != nil {
			return err
		}

		err = uc.paymentRepository.Update(ctx, payment)
		if errors.Is(err, participant.ErrConcurrentUpdate) && attempt < maxRefundConflicts {
			log.Debug("payment moved concurrently, reloading", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			span.RecordError(err)
			return errors.Wrap(err, "failed to persist refund")
		}

		log.Info("payment refunded", zap.String("reason", cmd.Reason))
		uc.count(ctx, "refunded")
		return uc.publish(ctx, payment)
	}
}

func (uc *RefundPayment) publish(ctx context.Context, payment *domain.Payment) error {
	evt := events.NewPaymentRefunded(events.PaymentRefundedEvent{
		OrderID:       payment.OrderID,
		TransactionID: payment.ID,
		Reason:        payment.RefundReason,
	})
	if err := uc.eventPublisher.Publish(ctx, evt); err != nil {
		return errors.Wrap(err, "failed to publish payment refunded event")
	}
	return nil
}

func (uc *RefundPayment) count(ctx context.Context, outcome string) {
	telemetry.RecordCounter(ctx, "participant_commands_total", "Participant commands by outcome", 1,
		attribute.String("participant", "payment-refund"),
		attribute.String("outcome", outcome),
	)
}
