package infrastructure

import (
	"context"
	"strconv"
	"sync"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	_ events.Publisher  = (*MemoryBus)(nil)
	_ events.Subscriber = (*MemoryBus)(nil)
)

// MemoryBus is an in-process topic exchange. Every matching queue gets its own copy of
// a message, each copy is delivered on its own goroutine, so nothing is ordered.
// A handler error redelivers the copy until maxDeliveries is reached, then the copy
// goes to the dead-letter sink.
type MemoryBus struct {
	mu          sync.RWMutex
	bindings    map[string]events.Topic
	handlers    map[string]events.EventHandler
	pending     map[string][]*events.Event
	wg          sync.WaitGroup
	closed      bool
	options     *memoryBusOptions
	deadLetters events.DeadLetterSink
	logger      *zap.Logger
}

type memoryBusOptions struct {
	maxDeliveries int
}

type MemoryBusOption func(*memoryBusOptions)

func WithMaxDeliveries(n int) MemoryBusOption {
	return func(o *memoryBusOptions) {
		if n > 0 {
			o.maxDeliveries = n
		}
	}
}

// NewMemoryBus creates a bus whose queues are bound with the given queue -> pattern map.
func NewMemoryBus(bindings map[string]string, deadLetters events.DeadLetterSink, logger *zap.Logger, opts ...MemoryBusOption) *MemoryBus {
	options := &memoryBusOptions{maxDeliveries: 5}
	for _, opt := range opts {
		opt(options)
	}

	b := &MemoryBus{
		bindings:    make(map[string]events.Topic, len(bindings)),
		handlers:    make(map[string]events.EventHandler),
		pending:     make(map[string][]*events.Event),
		options:     options,
		deadLetters: deadLetters,
		logger:      logger.With(zap.String("bus", "memory")),
	}
	for queue, pattern := range bindings {
		b.bindings[queue] = events.Topic(pattern)
	}
	return b
}

// Publish routes each event to every queue whose binding matches its routing key.
// Messages for queues without a consumer are held until one subscribes.
func (b *MemoryBus) Publish(ctx context.Context, evts ...*events.Event) error {
	for _, evt := range evts {
		key, err := events.RoutingKey(evt.Topic)
		if err != nil {
			return errors.Wrapf(err, "failed to route %s", evt.Topic)
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return errors.New("bus is closed")
		}
		for queue, pattern := range b.bindings {
			if !events.Topic(key).Matches(pattern) {
				continue
			}
			msg := evt.Clone().WithMetadata(events.MetadataRoutingKey, key)
			if handler, ok := b.handlers[queue]; ok {
				b.dispatch(ctx, queue, handler, msg)
			} else {
				b.pending[queue] = append(b.pending[queue], msg)
			}
		}
		b.mu.Unlock()
	}
	return nil
}

// Subscribe attaches handler to queue and flushes messages published before it arrived.
// Cancelling ctx detaches the handler.
func (b *MemoryBus) Subscribe(ctx context.Context, queue string, handler events.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.bindings[queue]; !ok {
		return errors.Errorf("unknown queue %q", queue)
	}
	if _, ok := b.handlers[queue]; ok {
		return errors.Errorf("queue %q already has a consumer", queue)
	}

	b.handlers[queue] = handler
	for _, msg := range b.pending[queue] {
		b.dispatch(ctx, queue, handler, msg)
	}
	delete(b.pending, queue)

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			b.mu.Lock()
			delete(b.handlers, queue)
			b.mu.Unlock()
		}()
	}

	return nil
}

// dispatch must be called with b.mu held, so Wait never misses an in-flight message.
func (b *MemoryBus) dispatch(ctx context.Context, queue string, handler events.EventHandler, msg *events.Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.deliver(context.WithoutCancel(ctx), queue, handler, msg)
	}()
}

func (b *MemoryBus) deliver(ctx context.Context, queue string, handler events.EventHandler, msg *events.Event) {
	log := b.logger.With(
		zap.String("queue", queue),
		zap.String("topic", msg.Topic.String()),
		zap.String("order_id", msg.AggregateID.String()),
	)

	var err error
	for attempt := 1; attempt <= b.options.maxDeliveries; attempt++ {
		msg.Metadata.Set(events.MetadataAttempt, strconv.Itoa(attempt))
		if err = handler.Handle(ctx, msg); err == nil {
			return
		}
		if errors.Is(err, events.ErrRejected) {
			break
		}
		log.Warn("delivery failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	if dlErr := b.deadLetters.DeadLetter(ctx, msg, err); dlErr != nil {
		log.Error("failed to dead-letter message", zap.Error(dlErr))
	}
}

// Wait blocks until no message is in flight, including those published by handlers.
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

// Close rejects further publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
