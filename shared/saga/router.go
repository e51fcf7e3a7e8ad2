package saga

import (
	"context"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handler is an events.EventHandler with a name for logs
type Handler interface {
	HandlerID() string
	Handle(ctx context.Context, event *events.Event) error
}

// HandlerFunc creates a named handler from a function
type HandlerFunc struct {
	id string
	fn func(ctx context.Context, event *events.Event) error
}

func NewHandlerFunc(id string, fn func(ctx context.Context, event *events.Event) error) *HandlerFunc {
	return &HandlerFunc{
		id: id,
		fn: fn,
	}
}

func (h *HandlerFunc) HandlerID() string {
	return h.id
}

func (h *HandlerFunc) Handle(ctx context.Context, event *events.Event) error {
	return h.fn(ctx, event)
}

// Router dispatches messages of one queue by topic. Topics nobody registered are
// logged and acknowledged, handler errors are returned so the transport redelivers.
type Router struct {
	handlers map[events.Topic][]Handler
	journal  events.Journal
	logger   *zap.Logger
}

var _ events.EventHandler = (*Router)(nil)

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[events.Topic][]Handler),
		logger:   logger,
	}
}

// WithJournal records every successfully handled message in journal
func (r *Router) WithJournal(journal events.Journal) *Router {
	r.journal = journal
	return r
}

// RegisterHandler registers a handler for a specific topic
func (r *Router) RegisterHandler(topic events.Topic, handler Handler) {
	r.handlers[topic] = append(r.handlers[topic], handler)
}

// Topics returns every topic with a handler
func (r *Router) Topics() []events.Topic {
	topics := make([]events.Topic, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// HandlerID names the router itself when it is registered on a transport
func (r *Router) HandlerID() string {
	return "saga-router"
}

func (r *Router) Handle(ctx context.Context, event *events.Event) error {
	log := r.logger.With(
		zap.String("topic", event.Topic.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("order_id", event.AggregateID.String()),
	)

	handlers, exists := r.handlers[event.Topic]
	if !exists {
		log.Warn("no handler registered, discarding message")
		return nil
	}

	for _, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			log.Warn("handler failed", zap.String("handler", handler.HandlerID()), zap.Error(err))
			return errors.Wrapf(err, "handler %s", handler.HandlerID())
		}
	}

	if r.journal != nil {
		if err := r.journal.Append(ctx, event); err != nil {
			log.Error("failed to journal message", zap.Error(err))
		}
	}

	return nil
}

// Typed adapts a payload handler. A payload that does not decode into T is rejected,
// redelivering it would never succeed.
func Typed[T any](id string, fn func(ctx context.Context, payload T) error) *HandlerFunc {
	return NewHandlerFunc(id, func(ctx context.Context, event *events.Event) error {
		var payload T
		if err := event.UnmarshalPayload(&payload); err != nil {
			return errors.Wrapf(events.ErrRejected, "undecodable %s payload: %v", event.Topic, err)
		}
		return fn(ctx, payload)
	})
}
