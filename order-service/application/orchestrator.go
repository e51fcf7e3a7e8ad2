// Package application holds the order-side saga: order creation and the orchestrator
// that advances each order on participant events.
package application

import (
	"context"
	"time"

	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultMaxConflictRetries = 5
	defaultOutboxClaimTTL     = 30 * time.Second
)

// Orchestrator owns the order state machine. A transition that implies a command writes
// the command into the order's outbox in the same versioned update, claimed by the writer
// that won it. That writer publishes and then removes it. A command whose publish failed,
// or whose claim expired, is published by the next delivery for the order or by the
// OutboxRelay, so a broker outage never loses a step and duplicates never emit twice.
type Orchestrator struct {
	orders     domain.OrderRepository
	publisher  events.Publisher
	logger     *zap.Logger
	maxRetries int
	claimTTL   time.Duration
	now        func() time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(orders domain.OrderRepository, publisher events.Publisher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		orders:     orders,
		publisher:  publisher,
		logger:     logger,
		maxRetries: defaultMaxConflictRetries,
		claimTTL:   defaultOutboxClaimTTL,
		now:        time.Now,
	}
}

// WithClaimTTL sets how long a writer owns the commands it enqueued before others may
// publish them.
func (o *Orchestrator) WithClaimTTL(ttl time.Duration) *Orchestrator {
	if ttl > 0 {
		o.claimTTL = ttl
	}
	return o
}

// WithMaxRetries bounds how often a step reloads the order after losing a versioned update
func (o *Orchestrator) WithMaxRetries(n int) *Orchestrator {
	if n > 0 {
		o.maxRetries = n
	}
	return o
}

// HandlePaymentProcessed records the transaction and asks the kitchen to prepare.
func (o *Orchestrator) HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.PaymentProcessedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		switch order.Status {
		case domain.OrderStatusPaymentPending:
			if err := o.transition(ctx, log, order, func() error { return order.CompletePayment(evt.TransactionID) }); err != nil {
				return err
			}
			fallthrough
		case domain.OrderStatusPaymentCompleted:
			return o.transition(ctx, log, order, order.StartKitchen, events.NewPreparePizza(events.PreparePizzaCommand{
				OrderID:   order.ID,
				PizzaType: order.PizzaType,
				Quantity:  order.Quantity,
			}))
		}
		return o.ignore(log, order)
	})
}

// HandlePaymentFailed ends the saga. Nothing was committed, so nothing is compensated.
func (o *Orchestrator) HandlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.PaymentFailedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		if order.Status != domain.OrderStatusPaymentPending {
			return o.ignore(log, order)
		}
		if err := o.transition(ctx, log, order, func() error { return order.FailPayment(evt.Reason) }); err != nil {
			return err
		}
		log.Warn("saga failed at payment", zap.String("reason", evt.Reason))
		return nil
	})
}

// HandlePizzaPrepared records the kitchen ticket and asks for a driver.
func (o *Orchestrator) HandlePizzaPrepared(ctx context.Context, evt events.PizzaPreparedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.PizzaPreparedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		switch order.Status {
		case domain.OrderStatusKitchenPending:
			if err := o.transition(ctx, log, order, func() error { return order.CompleteKitchen(evt.KitchenID) }); err != nil {
				return err
			}
			fallthrough
		case domain.OrderStatusKitchenCompleted:
			return o.transition(ctx, log, order, order.StartDelivery, events.NewAssignDelivery(events.AssignDeliveryCommand{
				OrderID:         order.ID,
				DeliveryAddress: order.DeliveryAddress,
			}))
		}
		return o.ignore(log, order)
	})
}

// HandleKitchenFailed compensates the committed payment and cancels the order.
func (o *Orchestrator) HandleKitchenFailed(ctx context.Context, evt events.KitchenFailedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.KitchenFailedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		switch order.Status {
		case domain.OrderStatusKitchenPending:
			if err := o.transition(ctx, log, order, func() error { return order.FailKitchen(evt.Reason) }); err != nil {
				return err
			}
			fallthrough
		case domain.OrderStatusKitchenFailed:
			return o.compensate(ctx, log, order)
		}
		return o.ignore(log, order)
	})
}

// HandleDeliveryAssigned completes the saga.
func (o *Orchestrator) HandleDeliveryAssigned(ctx context.Context, evt events.DeliveryAssignedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.DeliveryAssignedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		if order.Status != domain.OrderStatusDeliveryPending {
			return o.ignore(log, order)
		}
		if err := o.transition(ctx, log, order, func() error { return order.CompleteDelivery(evt.DriverID) }); err != nil {
			return err
		}
		log.Info("saga completed", zap.String("driver_id", evt.DriverID))
		return nil
	})
}

// HandleDeliveryFailed compensates the committed payment and cancels the order.
// The prepared pizza itself is not compensated.
func (o *Orchestrator) HandleDeliveryFailed(ctx context.Context, evt events.DeliveryFailedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.DeliveryFailedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		switch order.Status {
		case domain.OrderStatusDeliveryPending:
			if err := o.transition(ctx, log, order, func() error { return order.FailDelivery(evt.Reason) }); err != nil {
				return err
			}
			fallthrough
		case domain.OrderStatusDeliveryFailed:
			return o.compensate(ctx, log, order)
		}
		return o.ignore(log, order)
	})
}

// HandlePaymentRefunded only audits the refund. The order was cancelled when the refund was issued.
func (o *Orchestrator) HandlePaymentRefunded(ctx context.Context, evt events.PaymentRefundedEvent) error {
	return o.withOrder(ctx, evt.OrderID, events.PaymentRefundedTopic, func(ctx context.Context, log *zap.Logger, order *domain.Order) error {
		log.Info("payment refund confirmed",
			zap.String("transaction_id", evt.TransactionID.String()),
			zap.String("status", order.Status.String()),
		)
		return nil
	})
}

// compensate cancels a failed order and, if this writer won the cancellation, issues the refund.
func (o *Orchestrator) compensate(ctx context.Context, log *zap.Logger, order *domain.Order) error {
	refund := events.NewRefundPayment(events.RefundPaymentCommand{
		OrderID: order.ID,
		Reason:  order.FailureReason,
	})
	if err := o.transition(ctx, log, order, order.Cancel, refund); err != nil {
		return err
	}

	log.Warn("saga compensated, refunding payment", zap.String("reason", order.FailureReason))
	return nil
}

// FlushOutbox publishes every outbox command nobody holds a live claim on, and returns
// how many orders it flushed. Failures on one order are logged and left for the next run.
func (o *Orchestrator) FlushOutbox(ctx context.Context) (int, error) {
	orders, err := o.orders.FindWithOutbox(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pending outbox")
	}

	flushed := 0
	for _, order := range orders {
		if !order.HasClaimable(o.now()) {
			continue
		}

		log := o.logger.With(zap.String("order_id", order.ID.String()))
		if err := o.flush(ctx, log, order); err != nil {
			if errors.Is(err, domain.ErrConcurrentUpdate) {
				log.Debug("outbox claimed concurrently, skipping")
				continue
			}
			log.Warn("failed to flush outbox", zap.Error(err))
			continue
		}
		flushed++
	}
	return flushed, nil
}

// withOrder loads the order and runs step, reloading and retrying while another writer
// moves the order underneath it.
func (o *Orchestrator) withOrder(
	ctx context.Context,
	orderID models.ID,
	topic events.Topic,
	step func(ctx context.Context, log *zap.Logger, order *domain.Order) error,
) error {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator."+topic.String(),
		trace.WithAttributes(attribute.String("order_id", orderID.String())),
	)
	defer span.End()

	log := o.logger.With(zap.String("order_id", orderID.String()), zap.String("topic", topic.String()))

	var err error
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		var order *domain.Order
		order, err = o.load(ctx, log, orderID)
		if err != nil {
			span.RecordError(err)
			return err
		}

		// Commands left behind by an earlier delivery go out before this one is applied.
		if order.HasClaimable(o.now()) {
			if err = o.flush(ctx, log, order); err == nil {
				order, err = o.load(ctx, log, orderID)
			}
			if errors.Is(err, domain.ErrConcurrentUpdate) {
				log.Debug("outbox claimed concurrently, reloading", zap.Int("attempt", attempt))
				continue
			}
			if err != nil {
				break
			}
		}

		err = step(ctx, log, order)
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			break
		}
		log.Debug("order moved concurrently, reloading", zap.Int("attempt", attempt))
	}

	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (o *Orchestrator) load(ctx context.Context, log *zap.Logger, orderID models.ID) (*domain.Order, error) {
	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			log.Error("event for unknown order")
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to load order")
	}
	return order, nil
}

// transition applies a domain change and persists it, together with the commands it
// implies, in one versioned update. The commands are then dispatched by this writer.
func (o *Orchestrator) transition(
	ctx context.Context,
	log *zap.Logger,
	order *domain.Order,
	apply func() error,
	cmds ...*events.Event,
) error {
	from := order.Status
	if err := apply(); err != nil {
		return err
	}
	claimedUntil := o.now().Add(o.claimTTL)
	for _, cmd := range cmds {
		order.Enqueue(cmd, claimedUntil)
	}

	if err := o.orders.Update(ctx, order); err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			return err
		}
		return errors.Wrapf(err, "failed to persist %s -> %s", from, order.Status)
	}

	telemetry.RecordCounter(ctx, "saga_transitions_total", "Order status transitions", 1,
		attribute.String("from", from.String()),
		attribute.String("to", order.Status.String()),
	)
	log.Info("order transitioned", zap.String("from", from.String()), zap.String("to", order.Status.String()))
	return o.dispatch(ctx, log, order.ID, cmds)
}

// flush claims the order's unclaimed outbox and dispatches it.
func (o *Orchestrator) flush(ctx context.Context, log *zap.Logger, order *domain.Order) error {
	now := o.now()
	cmds := order.ClaimOutbox(now, now.Add(o.claimTTL))
	if len(cmds) == 0 {
		return nil
	}

	if err := o.orders.Update(ctx, order); err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			return err
		}
		return errors.Wrap(err, "failed to claim outbox")
	}

	log.Info("relaying unpublished commands", zap.Int("count", len(cmds)))
	return o.dispatch(ctx, log, order.ID, cmds)
}

// dispatch publishes claimed commands in order. A published command leaves the outbox.
// On a failed publish the claim is released so the next delivery or relay run retries it.
func (o *Orchestrator) dispatch(ctx context.Context, log *zap.Logger, orderID models.ID, cmds []*events.Event) error {
	for _, cmd := range cmds {
		if err := o.publisher.Publish(ctx, cmd); err != nil {
			if relErr := o.updateOutbox(ctx, orderID, func(order *domain.Order) bool {
				return order.ReleaseOutbox(cmd.ID)
			}); relErr != nil {
				log.Warn("failed to release outbox claim", zap.String("command", cmd.Topic.String()), zap.Error(relErr))
			}
			return errors.Wrapf(err, "failed to publish %s", cmd.Topic)
		}

		if err := o.updateOutbox(ctx, orderID, func(order *domain.Order) bool {
			return order.MarkDispatched(cmd.ID)
		}); err != nil {
			// It is published again once the claim expires, and participants are idempotent.
			log.Warn("failed to mark command dispatched", zap.String("command", cmd.Topic.String()), zap.Error(err))
		}
	}
	return nil
}

// updateOutbox applies an outbox change to the latest stored order.
func (o *Orchestrator) updateOutbox(ctx context.Context, orderID models.ID, change func(*domain.Order) bool) error {
	var err error
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		var order *domain.Order
		order, err = o.orders.FindByID(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "failed to load order")
		}
		if !change(order) {
			return nil
		}

		err = o.orders.Update(ctx, order)
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return err
		}
	}
	return err
}

func (o *Orchestrator) ignore(log *zap.Logger, order *domain.Order) error {
	log.Info("event already applied, ignoring", zap.String("status", order.Status.String()))
	return nil
}
