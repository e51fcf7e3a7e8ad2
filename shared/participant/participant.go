// Package participant implements the idempotent command protocol shared by the
// payment, kitchen and delivery services.
//
// A command is executed at most once per order: the first delivery claims the order
// with a create-if-absent write, runs the simulated work and persists the terminal
// status before publishing it. Later deliveries re-publish the stored outcome. A record
// left pending longer than Config.StaleAfter belongs to a delivery that died mid-work, and
// the next duplicate fails it.
package participant

import (
	"context"
	"fmt"
	"time"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Protocol binds a participant's aggregate to the shared command flow.
type Protocol[A any] interface {
	// Complete moves a pending aggregate to its success status.
	Complete(agg A) error
	// Fail moves a pending aggregate to its failure status.
	Fail(agg A, reason string) error
	SuccessEvent(agg A) *events.Event
	FailureEvent(agg A, reason string) *events.Event
}

const defaultStaleAfter = time.Minute

// Config names the participant and its failure reasons.
type Config struct {
	Name          string
	DeclineReason string
	ErrorPrefix   string
	// StaleAfter must exceed the longest simulated work. Defaults to a minute.
	StaleAfter time.Duration
}

// Handler runs Protocol against a Repository.
type Handler[A Aggregate[A]] struct {
	config     Config
	repository Repository[A]
	protocol   Protocol[A]
	publisher  events.Publisher
	simulator  *simulation.Simulator
	logger     *zap.Logger
	now        func() time.Time
}

func NewHandler[A Aggregate[A]](
	config Config,
	repository Repository[A],
	protocol Protocol[A],
	publisher events.Publisher,
	simulator *simulation.Simulator,
	logger *zap.Logger,
) *Handler[A] {
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaultStaleAfter
	}
	return &Handler[A]{
		config:     config,
		repository: repository,
		protocol:   protocol,
		publisher:  publisher,
		simulator:  simulator,
		logger:     logger.With(zap.String("participant", config.Name)),
		now:        time.Now,
	}
}

// Handle processes a command whose fresh pending aggregate is agg.
func (h *Handler[A]) Handle(ctx context.Context, agg A) error {
	orderID := agg.GetOrderID()
	ctx, span := telemetry.StartSpan(ctx, h.config.Name+".handle_command",
		trace.WithAttributes(attribute.String("order_id", orderID.String())),
	)
	defer span.End()

	log := h.logger.With(zap.String("order_id", orderID.String()))

	existing, err := h.repository.FindByOrderID(ctx, orderID)
	switch {
	case err == nil:
		return h.replay(ctx, log, existing)
	case !errors.Is(err, ErrNotFound):
		span.RecordError(err)
		return errors.Wrapf(err, "failed to look up %s record", h.config.Name)
	}

	return h.execute(ctx, log, agg)
}

func (h *Handler[A]) execute(ctx context.Context, log *zap.Logger, agg A) (err error) {
	created := false
	defer func() {
		if r := recover(); r != nil {
			err = h.abort(ctx, log, agg, created, errors.Errorf("%v", r))
		}
	}()

	var stored A
	stored, created, err = h.repository.CreateIfAbsent(ctx, agg)
	if err != nil {
		return h.abort(ctx, log, agg, false, err)
	}
	if !created {
		return h.replay(ctx, log, stored)
	}

	start := time.Now()
	passed, err := h.simulator.Run(ctx)
	telemetry.RecordHistogram(ctx, "participant_work_duration_seconds", "Simulated participant work duration",
		time.Since(start).Seconds(), attribute.String("participant", h.config.Name))
	if err != nil {
		return h.abort(ctx, log, agg, true, err)
	}

	var evt *events.Event
	if passed {
		if err := h.protocol.Complete(agg); err != nil {
			return h.abort(ctx, log, agg, true, err)
		}
		evt = h.protocol.SuccessEvent(agg)
	} else {
		if err := h.protocol.Fail(agg, h.config.DeclineReason); err != nil {
			return h.abort(ctx, log, agg, true, err)
		}
		evt = h.protocol.FailureEvent(agg, h.config.DeclineReason)
	}

	if err := h.repository.Update(ctx, agg); err != nil {
		return h.abort(ctx, log, agg, true, err)
	}

	// The outcome is durable now. A failed publish is retried by redelivery, which replays it.
	if err := h.publisher.Publish(ctx, evt); err != nil {
		return errors.Wrapf(err, "failed to publish %s", evt.Topic)
	}

	if passed {
		log.Info("command completed", zap.String("topic", evt.Topic.String()))
		h.count(ctx, "succeeded")
	} else {
		log.Warn("command declined", zap.String("reason", h.config.DeclineReason))
		h.count(ctx, "declined")
	}
	return nil
}

// replay re-publishes the outcome of a command that was already executed.
func (h *Handler[A]) replay(ctx context.Context, log *zap.Logger, stored A) error {
	var evt *events.Event
	switch stored.Outcome() {
	case Succeeded:
		evt = h.protocol.SuccessEvent(stored)
	case Failed:
		evt = h.protocol.FailureEvent(stored, stored.FailureMessage())
	case Compensated:
		log.Info("duplicate command for a compensated record, nothing to replay")
		return nil
	default:
		if h.now().Sub(stored.LastUpdated()) > h.config.StaleAfter {
			return h.expire(ctx, log, stored)
		}
		log.Info("duplicate command while the first delivery is still in flight")
		return nil
	}

	log.Info("duplicate command, re-publishing stored outcome", zap.Stringer("outcome", stored.Outcome()))
	h.count(ctx, "replayed")

	if err := h.publisher.Publish(ctx, evt); err != nil {
		return errors.Wrapf(err, "failed to re-publish %s", evt.Topic)
	}
	return nil
}

// expire fails a pending record whose first delivery never finished. If that delivery
// finishes first after all, its stored outcome is replayed instead.
func (h *Handler[A]) expire(ctx context.Context, log *zap.Logger, stored A) error {
	reason := fmt.Sprintf("%s: processing did not complete", h.config.ErrorPrefix)
	log.Warn("pending record outlived its work, failing it", zap.Time("updated_at", stored.LastUpdated()))
	h.count(ctx, "expired")

	if err := h.protocol.Fail(stored, reason); err != nil {
		return errors.Wrapf(err, "failed to expire %s record", h.config.Name)
	}
	if err := h.repository.Update(ctx, stored); err != nil {
		if !errors.Is(err, ErrConcurrentUpdate) {
			return errors.Wrapf(err, "failed to persist expired %s record", h.config.Name)
		}
		current, err := h.repository.FindByOrderID(ctx, stored.GetOrderID())
		if err != nil {
			return errors.Wrapf(err, "failed to reload %s record", h.config.Name)
		}
		return h.replay(ctx, log, current)
	}

	evt := h.protocol.FailureEvent(stored, reason)
	if err := h.publisher.Publish(ctx, evt); err != nil {
		return errors.Wrapf(err, "failed to publish %s", evt.Topic)
	}
	return nil
}

// abort turns an unexpected error into exactly one failure event for the order.
func (h *Handler[A]) abort(ctx context.Context, log *zap.Logger, agg A, created bool, cause error) error {
	ctx = context.WithoutCancel(ctx)
	reason := fmt.Sprintf("%s: %v", h.config.ErrorPrefix, cause)
	log.Error("command processing failed", zap.Error(cause))
	h.count(ctx, "error")

	if created {
		current, err := h.repository.FindByOrderID(ctx, agg.GetOrderID())
		switch {
		case err != nil:
			log.Warn("could not reload record to mark it failed", zap.Error(err))
		case current.Outcome() != Pending:
			return h.replay(ctx, log, current)
		default:
			if err := h.protocol.Fail(current, reason); err != nil {
				log.Warn("could not mark record failed", zap.Error(err))
			} else if err := h.repository.Update(ctx, current); err != nil {
				log.Warn("could not persist failed record", zap.Error(err))
			}
		}
	}

	evt := h.protocol.FailureEvent(agg, reason)
	if err := h.publisher.Publish(ctx, evt); err != nil {
		return errors.Wrapf(err, "failed to publish %s", evt.Topic)
	}
	return nil
}

func (h *Handler[A]) count(ctx context.Context, outcome string) {
	telemetry.RecordCounter(ctx, "participant_commands_total", "Participant commands by outcome", 1,
		attribute.String("participant", h.config.Name),
		attribute.String("outcome", outcome),
	)
}
