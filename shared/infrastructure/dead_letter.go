package infrastructure

import (
	"context"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var _ events.DeadLetterSink = (*LogDeadLetterSink)(nil)

// Dead-letter reasons, used as the saga_dead_letters_total label.
const (
	DeadLetterReasonExhausted = "redelivery_exhausted"
	DeadLetterReasonRejected  = "rejected"
)

func deadLetterReason(cause error) string {
	if errors.Is(cause, events.ErrRejected) {
		return DeadLetterReasonRejected
	}
	return DeadLetterReasonExhausted
}

// LogDeadLetterSink records dead letters in the log only
type LogDeadLetterSink struct {
	logger *zap.Logger
}

func NewLogDeadLetterSink(logger *zap.Logger) *LogDeadLetterSink {
	return &LogDeadLetterSink{logger: logger}
}

func (s *LogDeadLetterSink) DeadLetter(ctx context.Context, event *events.Event, cause error) error {
	reason := deadLetterReason(cause)
	telemetry.RecordCounter(ctx, "saga_dead_letters_total", "Messages handed to the dead-letter sink", 1,
		attribute.String("reason", reason),
	)

	attempt, _ := event.Metadata.Get(events.MetadataAttempt)
	s.logger.Error("message dead-lettered",
		zap.String("event_id", event.ID.String()),
		zap.String("topic", event.Topic.String()),
		zap.String("order_id", event.AggregateID.String()),
		zap.String("attempt", attempt),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	return nil
}
