package infrastructure

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/mocks"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type collector struct {
	mu   sync.Mutex
	seen []*events.Event
}

func (c *collector) Handle(_ context.Context, evt *events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, evt)
	return nil
}

func (c *collector) topics() []events.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]events.Topic, len(c.seen))
	for i, evt := range c.seen {
		topics[i] = evt.Topic
	}
	return topics
}

func newTestBus(t *testing.T, sink events.DeadLetterSink, opts ...MemoryBusOption) *MemoryBus {
	if sink == nil {
		sink = NewLogDeadLetterSink(zaptest.NewLogger(t))
	}
	return NewMemoryBus(events.Bindings, sink, zaptest.NewLogger(t), opts...)
}

func TestMemoryBus_RoutesByRoutingKey(t *testing.T) {
	bus := newTestBus(t, nil)
	payments, kitchen, orders := &collector{}, &collector{}, &collector{}

	ctx := context.Background()
	require.NoError(t, bus.Subscribe(ctx, events.PaymentCommandQueue, payments))
	require.NoError(t, bus.Subscribe(ctx, events.KitchenCommandQueue, kitchen))
	require.NoError(t, bus.Subscribe(ctx, events.OrderEventQueue, orders))

	orderID := models.GenerateUUID()
	require.NoError(t, bus.Publish(ctx,
		events.NewProcessPayment(events.ProcessPaymentCommand{OrderID: orderID}),
		events.NewRefundPayment(events.RefundPaymentCommand{OrderID: orderID}),
		events.NewPreparePizza(events.PreparePizzaCommand{OrderID: orderID}),
		events.NewPaymentFailed(events.PaymentFailedEvent{OrderID: orderID}),
	))
	bus.Wait()

	assert.ElementsMatch(t, []events.Topic{events.ProcessPaymentCommandTopic, events.RefundPaymentCommandTopic}, payments.topics())
	assert.Equal(t, []events.Topic{events.PreparePizzaCommandTopic}, kitchen.topics())
	assert.Equal(t, []events.Topic{events.PaymentFailedTopic}, orders.topics())

	key, ok := orders.seen[0].Metadata.Get(events.MetadataRoutingKey)
	require.True(t, ok)
	assert.Equal(t, events.OrderEventRoutingKey, key)
}

func TestMemoryBus_HoldsMessagesUntilSubscribe(t *testing.T) {
	bus := newTestBus(t, nil)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, events.NewAssignDelivery(events.AssignDeliveryCommand{OrderID: models.GenerateUUID()})))

	deliveries := &collector{}
	require.NoError(t, bus.Subscribe(ctx, events.DeliveryCommandQueue, deliveries))
	bus.Wait()

	assert.Equal(t, []events.Topic{events.AssignDeliveryCommandTopic}, deliveries.topics())
}

func TestMemoryBus_RejectsUnroutableTopic(t *testing.T) {
	bus := newTestBus(t, nil)

	err := bus.Publish(context.Background(), events.NewEvent(models.GenerateUUID(), "wallet.debited", nil))
	assert.ErrorIs(t, err, events.ErrUnroutable)
}

func TestMemoryBus_SubscribeErrors(t *testing.T) {
	bus := newTestBus(t, nil)
	ctx := context.Background()

	assert.Error(t, bus.Subscribe(ctx, "wallet.queue", &collector{}))

	require.NoError(t, bus.Subscribe(ctx, events.OrderEventQueue, &collector{}))
	assert.Error(t, bus.Subscribe(ctx, events.OrderEventQueue, &collector{}))
}

func TestMemoryBus_RedeliversUntilSuccess(t *testing.T) {
	bus := newTestBus(t, nil, WithMaxDeliveries(3))

	var calls atomic.Int32
	var lastAttempt atomic.Value
	handler := events.EventHandlerFunc(func(_ context.Context, evt *events.Event) error {
		attempt, _ := evt.Metadata.Get(events.MetadataAttempt)
		lastAttempt.Store(attempt)
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, bus.Subscribe(ctx, events.OrderEventQueue, handler))
	require.NoError(t, bus.Publish(ctx, events.NewPaymentProcessed(events.PaymentProcessedEvent{OrderID: models.GenerateUUID()})))
	bus.Wait()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "3", lastAttempt.Load())
}

func TestMemoryBus_DeadLettersAfterMaxDeliveries(t *testing.T) {
	sink := mocks.NewMockDeadLetterSink(t)
	bus := newTestBus(t, sink, WithMaxDeliveries(2))

	cause := errors.New("database down")
	var calls atomic.Int32
	handler := events.EventHandlerFunc(func(context.Context, *events.Event) error {
		calls.Add(1)
		return cause
	})

	sink.On("DeadLetter", mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
		return evt.Topic == events.KitchenFailedTopic
	}), cause).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, bus.Subscribe(ctx, events.OrderEventQueue, handler))
	require.NoError(t, bus.Publish(ctx, events.NewKitchenFailed(events.KitchenFailedEvent{OrderID: models.GenerateUUID()})))
	bus.Wait()

	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryBus_DeadLettersRejectedImmediately(t *testing.T) {
	sink := mocks.NewMockDeadLetterSink(t)
	bus := newTestBus(t, sink, WithMaxDeliveries(5))

	var calls atomic.Int32
	handler := events.EventHandlerFunc(func(context.Context, *events.Event) error {
		calls.Add(1)
		return errors.Wrap(events.ErrRejected, "unknown order")
	})

	sink.On("DeadLetter", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, bus.Subscribe(ctx, events.OrderEventQueue, handler))
	require.NoError(t, bus.Publish(ctx, events.NewDeliveryFailed(events.DeliveryFailedEvent{OrderID: models.GenerateUUID()})))
	bus.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryBus_WaitCoversMessagesPublishedByHandlers(t *testing.T) {
	bus := newTestBus(t, nil)
	ctx := context.Background()
	orders := &collector{}

	relay := events.EventHandlerFunc(func(ctx context.Context, evt *events.Event) error {
		return bus.Publish(ctx, events.NewPaymentProcessed(events.PaymentProcessedEvent{OrderID: evt.AggregateID}))
	})

	require.NoError(t, bus.Subscribe(ctx, events.PaymentCommandQueue, relay))
	require.NoError(t, bus.Subscribe(ctx, events.OrderEventQueue, orders))
	require.NoError(t, bus.Publish(ctx, events.NewProcessPayment(events.ProcessPaymentCommand{OrderID: models.GenerateUUID()})))
	bus.Wait()

	assert.Equal(t, []events.Topic{events.PaymentProcessedTopic}, orders.topics())
}

func TestMemoryBus_CloseRejectsPublish(t *testing.T) {
	bus := newTestBus(t, nil)
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), events.NewProcessPayment(events.ProcessPaymentCommand{OrderID: models.GenerateUUID()}))
	assert.Error(t, err)
}
