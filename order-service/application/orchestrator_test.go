package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/order-service/infrastructure"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/mocks"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	orders       *infrastructure.MemoryOrderRepository
	publisher    *mocks.RecordingPublisher
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	orders := infrastructure.NewMemoryOrderRepository()
	publisher := mocks.NewRecordingPublisher()
	return &fixture{
		orders:       orders,
		publisher:    publisher,
		orchestrator: NewOrchestrator(orders, publisher, zaptest.NewLogger(t)),
	}
}

func validCommand() *CreateOrderCommand {
	return &CreateOrderCommand{
		CustomerID:      "CUST001",
		PizzaType:       "Margherita",
		Quantity:        2,
		DeliveryAddress: "123 Main St",
	}
}

func (f *fixture) create(t *testing.T) models.ID {
	resp, err := f.orchestrator.CreateOrder(context.Background(), validCommand())
	require.NoError(t, err)
	return models.ID(resp.ID)
}

func outboxOf(t *testing.T, orders domain.OrderRepository, id models.ID) []domain.OutboxMessage {
	order, err := orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order.Outbox
}

func (f *fixture) status(t *testing.T, id models.ID) domain.OrderStatus {
	order, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

// toKitchenPending drives a new order past a successful payment.
func (f *fixture) toKitchenPending(t *testing.T) models.ID {
	id := f.create(t)
	require.NoError(t, f.orchestrator.HandlePaymentProcessed(context.Background(), events.PaymentProcessedEvent{
		OrderID:       id,
		TransactionID: models.GenerateUUID(),
	}))
	return id
}

func (f *fixture) toDeliveryPending(t *testing.T) models.ID {
	id := f.toKitchenPending(t)
	require.NoError(t, f.orchestrator.HandlePizzaPrepared(context.Background(), events.PizzaPreparedEvent{
		OrderID:   id,
		KitchenID: models.GenerateUUID(),
	}))
	return id
}

func TestOrchestrator_CreateOrder(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orchestrator.CreateOrder(context.Background(), validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPaymentPending.String(), resp.Status)
	assert.Equal(t, int64(3198), resp.Amount)
	assert.Equal(t, "USD", resp.Currency)

	cmds := f.publisher.ByTopic(events.ProcessPaymentCommandTopic)
	require.Len(t, cmds, 1)
	assert.Len(t, f.publisher.Events(), 1)

	var cmd events.ProcessPaymentCommand
	require.NoError(t, cmds[0].UnmarshalPayload(&cmd))
	assert.Equal(t, resp.ID, cmd.OrderID.String())
	assert.Equal(t, "CUST001", cmd.CustomerID)
	assert.Equal(t, models.NewMoney(3198, "USD"), cmd.Amount)

	assert.Equal(t, domain.OrderStatusPaymentPending, f.status(t, models.ID(resp.ID)))
	assert.Empty(t, outboxOf(t, f.orders, models.ID(resp.ID)))
}

func TestOrchestrator_CreateOrderRejectsInvalidRequest(t *testing.T) {
	publisher := mocks.NewMockPublisher(t)
	orchestrator := NewOrchestrator(infrastructure.NewMemoryOrderRepository(), publisher, zaptest.NewLogger(t))

	cmd := validCommand()
	cmd.Quantity = 0

	resp, err := orchestrator.CreateOrder(context.Background(), cmd)
	var validationErr *domain.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "Quantity must be at least 1", validationErr.Message)
	assert.Nil(t, resp)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOrchestrator_CreateOrderPublishFailure(t *testing.T) {
	publisher := mocks.NewMockPublisher(t)
	orders := infrastructure.NewMemoryOrderRepository()
	orchestrator := NewOrchestrator(orders, publisher, zaptest.NewLogger(t))
	ctx := context.Background()

	publisher.On("Publish", mock.Anything, mocks.HasTopic(events.ProcessPaymentCommandTopic)).
		Return(errors.New("broker down")).Once()
	publisher.On("Publish", mock.Anything, mocks.HasTopic(events.ProcessPaymentCommandTopic)).
		Return(nil).Once()

	resp, err := orchestrator.CreateOrder(ctx, validCommand())
	require.NoError(t, err, "the command is stored with the order")
	assert.Equal(t, domain.OrderStatusPaymentPending.String(), resp.Status)

	stored, err := orders.FindByID(ctx, models.ID(resp.ID))
	require.NoError(t, err)
	require.Len(t, stored.Outbox, 1)
	assert.Equal(t, events.ProcessPaymentCommandTopic, stored.Outbox[0].Event.Topic)
	assert.True(t, stored.HasClaimable(time.Now()), "a failed publish releases its claim")

	flushed, err := orchestrator.FlushOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Empty(t, outboxOf(t, orders, models.ID(resp.ID)))
}

func TestOrchestrator_PaymentProcessed(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	txID := models.GenerateUUID()
	evt := events.PaymentProcessedEvent{OrderID: id, TransactionID: txID}

	require.NoError(t, f.orchestrator.HandlePaymentProcessed(context.Background(), evt))
	require.NoError(t, f.orchestrator.HandlePaymentProcessed(context.Background(), evt))

	order, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusKitchenPending, order.Status)
	assert.Equal(t, txID, order.PaymentTransactionID)

	cmds := f.publisher.ByTopic(events.PreparePizzaCommandTopic)
	require.Len(t, cmds, 1, "duplicate event must not re-dispatch")

	var cmd events.PreparePizzaCommand
	require.NoError(t, cmds[0].UnmarshalPayload(&cmd))
	assert.Equal(t, events.PreparePizzaCommand{OrderID: id, PizzaType: "Margherita", Quantity: 2}, cmd)
}

func TestOrchestrator_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.publisher.Reset()

	evt := events.PaymentFailedEvent{OrderID: id, Reason: "Insufficient funds or card declined"}
	require.NoError(t, f.orchestrator.HandlePaymentFailed(context.Background(), evt))
	require.NoError(t, f.orchestrator.HandlePaymentFailed(context.Background(), evt))

	order, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaymentFailed, order.Status)
	assert.Equal(t, "Insufficient funds or card declined", order.FailureReason)
	assert.Empty(t, f.publisher.Events(), "payment failure is not compensated")
}

func TestOrchestrator_PizzaPreparedAndDeliveryAssigned(t *testing.T) {
	f := newFixture(t)
	id := f.toKitchenPending(t)
	kitchenID := models.GenerateUUID()

	prepared := events.PizzaPreparedEvent{OrderID: id, KitchenID: kitchenID}
	require.NoError(t, f.orchestrator.HandlePizzaPrepared(context.Background(), prepared))
	require.NoError(t, f.orchestrator.HandlePizzaPrepared(context.Background(), prepared))

	assert.Equal(t, domain.OrderStatusDeliveryPending, f.status(t, id))
	cmds := f.publisher.ByTopic(events.AssignDeliveryCommandTopic)
	require.Len(t, cmds, 1)

	var cmd events.AssignDeliveryCommand
	require.NoError(t, cmds[0].UnmarshalPayload(&cmd))
	assert.Equal(t, "123 Main St", cmd.DeliveryAddress)

	assigned := events.DeliveryAssignedEvent{OrderID: id, DriverID: "DRIVER-007"}
	require.NoError(t, f.orchestrator.HandleDeliveryAssigned(context.Background(), assigned))
	require.NoError(t, f.orchestrator.HandleDeliveryAssigned(context.Background(), assigned))

	order, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, kitchenID, order.KitchenID)
	assert.Equal(t, "DRIVER-007", order.DriverID)
	assert.Empty(t, f.publisher.ByTopic(events.RefundPaymentCommandTopic))
}

func TestOrchestrator_Compensation(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fixture, *testing.T) models.ID
		handle func(context.Context, *Orchestrator, models.ID) error
		reason string
	}{
		{
			name:  "kitchen failure",
			setup: (*fixture).toKitchenPending,
			handle: func(ctx context.Context, o *Orchestrator, id models.ID) error {
				return o.HandleKitchenFailed(ctx, events.KitchenFailedEvent{OrderID: id, Reason: "Out of ingredients or kitchen capacity full"})
			},
			reason: "Out of ingredients or kitchen capacity full",
		},
		{
			name:  "delivery failure",
			setup: (*fixture).toDeliveryPending,
			handle: func(ctx context.Context, o *Orchestrator, id models.ID) error {
				return o.HandleDeliveryFailed(ctx, events.DeliveryFailedEvent{OrderID: id, Reason: "No drivers available in the area"})
			},
			reason: "No drivers available in the area",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := tt.setup(f, t)

			require.NoError(t, tt.handle(context.Background(), f.orchestrator, id))
			require.NoError(t, tt.handle(context.Background(), f.orchestrator, id))

			order, err := f.orders.FindByID(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusCancelled, order.Status)
			assert.Equal(t, tt.reason, order.FailureReason)

			refunds := f.publisher.ByTopic(events.RefundPaymentCommandTopic)
			require.Len(t, refunds, 1)

			var cmd events.RefundPaymentCommand
			require.NoError(t, refunds[0].UnmarshalPayload(&cmd))
			assert.Equal(t, events.RefundPaymentCommand{OrderID: id, Reason: tt.reason}, cmd)
		})
	}
}

func TestOrchestrator_ConcurrentDuplicatesCompensateOnce(t *testing.T) {
	f := newFixture(t)
	id := f.toKitchenPending(t)

	const duplicates = 8
	var wg sync.WaitGroup
	errs := make(chan error, duplicates)
	for i := 0; i < duplicates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.orchestrator.HandleKitchenFailed(context.Background(), events.KitchenFailedEvent{OrderID: id, Reason: "oven broke"})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, domain.OrderStatusCancelled, f.status(t, id))
	assert.Len(t, f.publisher.ByTopic(events.RefundPaymentCommandTopic), 1)
}

func TestOrchestrator_RedeliveryAfterPublishFailure(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fixture, *testing.T) models.ID
		deliver func(*Orchestrator, models.ID) error
		command events.Topic
		status  domain.OrderStatus
	}{
		{
			name:  "payment processed",
			setup: (*fixture).create,
			deliver: func(o *Orchestrator, id models.ID) error {
				return o.HandlePaymentProcessed(context.Background(), events.PaymentProcessedEvent{OrderID: id, TransactionID: "txn-1"})
			},
			command: events.PreparePizzaCommandTopic,
			status:  domain.OrderStatusKitchenPending,
		},
		{
			name:  "kitchen failed",
			setup: (*fixture).toKitchenPending,
			deliver: func(o *Orchestrator, id models.ID) error {
				return o.HandleKitchenFailed(context.Background(), events.KitchenFailedEvent{OrderID: id, Reason: "oven broke"})
			},
			command: events.RefundPaymentCommandTopic,
			status:  domain.OrderStatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := tt.setup(f, t)
			f.publisher.Reset()

			f.publisher.FailWith(errors.New("broker down"))
			err := tt.deliver(f.orchestrator, id)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "broker down")
			assert.Equal(t, tt.status, f.status(t, id))
			require.Len(t, outboxOf(t, f.orders, id), 1, "the command survives the failed publish")
			assert.Empty(t, f.publisher.Events())

			f.publisher.FailWith(nil)
			require.NoError(t, tt.deliver(f.orchestrator, id))
			require.NoError(t, tt.deliver(f.orchestrator, id))

			assert.Len(t, f.publisher.ByTopic(tt.command), 1)
			assert.Len(t, f.publisher.Events(), 1)
			assert.Equal(t, tt.status, f.status(t, id))
			assert.Empty(t, outboxOf(t, f.orders, id))
		})
	}
}

func TestOrchestrator_ClaimedCommandWaitsForExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.publisher.Reset()
	ctx := context.Background()

	clock := time.Now()
	f.orchestrator.now = func() time.Time { return clock }

	// A previous delivery stored KITCHEN_PENDING with its command and crashed before publishing.
	order, err := f.orders.FindByID(ctx, id)
	require.NoError(t, err)
	require.NoError(t, order.CompletePayment("txn-1"))
	require.NoError(t, f.orders.Update(ctx, order))
	require.NoError(t, order.StartKitchen())
	order.Enqueue(events.NewPreparePizza(events.PreparePizzaCommand{OrderID: id, PizzaType: "Margherita", Quantity: 2}), clock.Add(defaultOutboxClaimTTL))
	require.NoError(t, f.orders.Update(ctx, order))

	require.NoError(t, f.orchestrator.HandlePaymentProcessed(ctx, events.PaymentProcessedEvent{OrderID: id, TransactionID: "txn-1"}))
	flushed, err := f.orchestrator.FlushOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Empty(t, f.publisher.Events(), "the claim is still live")

	clock = clock.Add(defaultOutboxClaimTTL + time.Second)
	flushed, err = f.orchestrator.FlushOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Len(t, f.publisher.ByTopic(events.PreparePizzaCommandTopic), 1)
	assert.Empty(t, outboxOf(t, f.orders, id))
	assert.Equal(t, domain.OrderStatusKitchenPending, f.status(t, id))
}

func TestOrchestrator_ResumesIntermediateState(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	// A previous delivery persisted PAYMENT_COMPLETED and then crashed.
	order, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	txID := models.GenerateUUID()
	require.NoError(t, order.CompletePayment(txID))
	require.NoError(t, f.orders.Update(context.Background(), order))

	require.NoError(t, f.orchestrator.HandlePaymentProcessed(context.Background(), events.PaymentProcessedEvent{OrderID: id, TransactionID: txID}))

	assert.Equal(t, domain.OrderStatusKitchenPending, f.status(t, id))
	assert.Len(t, f.publisher.ByTopic(events.PreparePizzaCommandTopic), 1)
}

func TestOrchestrator_IgnoresEventsOutOfOrder(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.publisher.Reset()

	ctx := context.Background()
	require.NoError(t, f.orchestrator.HandlePizzaPrepared(ctx, events.PizzaPreparedEvent{OrderID: id, KitchenID: models.GenerateUUID()}))
	require.NoError(t, f.orchestrator.HandleDeliveryFailed(ctx, events.DeliveryFailedEvent{OrderID: id, Reason: "late"}))
	require.NoError(t, f.orchestrator.HandleKitchenFailed(ctx, events.KitchenFailedEvent{OrderID: id, Reason: "late"}))

	assert.Equal(t, domain.OrderStatusPaymentPending, f.status(t, id))
	assert.Empty(t, f.publisher.Events())
}

func TestOrchestrator_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unknown := models.GenerateUUID()

	handlers := map[string]func() error{
		"payment processed": func() error {
			return f.orchestrator.HandlePaymentProcessed(ctx, events.PaymentProcessedEvent{OrderID: unknown})
		},
		"payment failed": func() error {
			return f.orchestrator.HandlePaymentFailed(ctx, events.PaymentFailedEvent{OrderID: unknown})
		},
		"payment refunded": func() error {
			return f.orchestrator.HandlePaymentRefunded(ctx, events.PaymentRefundedEvent{OrderID: unknown})
		},
		"pizza prepared": func() error {
			return f.orchestrator.HandlePizzaPrepared(ctx, events.PizzaPreparedEvent{OrderID: unknown})
		},
		"kitchen failed": func() error {
			return f.orchestrator.HandleKitchenFailed(ctx, events.KitchenFailedEvent{OrderID: unknown})
		},
		"delivery assigned": func() error {
			return f.orchestrator.HandleDeliveryAssigned(ctx, events.DeliveryAssignedEvent{OrderID: unknown})
		},
		"delivery failed": func() error {
			return f.orchestrator.HandleDeliveryFailed(ctx, events.DeliveryFailedEvent{OrderID: unknown})
		},
	}

	for name, handle := range handlers {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, handle(), domain.ErrOrderNotFound)
		})
	}
	assert.Empty(t, f.publisher.Events())
}

func TestOrchestrator_PaymentRefundedIsAuditOnly(t *testing.T) {
	f := newFixture(t)
	id := f.toKitchenPending(t)
	require.NoError(t, f.orchestrator.HandleKitchenFailed(context.Background(), events.KitchenFailedEvent{OrderID: id, Reason: "oven broke"}))

	before, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.HandlePaymentRefunded(context.Background(), events.PaymentRefundedEvent{OrderID: id, Reason: "oven broke"}))

	after, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, domain.OrderStatusCancelled, after.Status)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	journal := &fakeJournal{}
	uc := NewGetOrder(f.orders, journal)
	ctx := context.Background()

	resp, err := uc.Execute(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, "CUST001", resp.CustomerID)

	_, err = uc.Execute(ctx, models.GenerateUUID().String())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = uc.Execute(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	all, err := uc.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	journal.entries = f.publisher.Events()
	entries, err := uc.Journal(ctx, id.String())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.ProcessPaymentCommandTopic.String(), entries[0].Topic)
	assert.Contains(t, string(entries[0].Payload), "CUST001")
}

type fakeJournal struct {
	entries []*events.Event
}

func (j *fakeJournal) Append(context.Context, *events.Event) error { return nil }

func (j *fakeJournal) List(_ context.Context, id models.ID) ([]*events.Event, error) {
	var out []*events.Event
	for _, evt := range j.entries {
		if evt.AggregateID == id {
			out = append(out, evt)
		}
	}
	return out, nil
}
