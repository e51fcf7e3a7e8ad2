package infrastructure

import (
	"context"
	"time"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var _ events.DeadLetterSink = (*KafkaDeadLetterSink)(nil)

// Headers attached to every dead-lettered Kafka record.
const (
	HeaderOriginalTopic      = "x-original-topic"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderAttempt            = "x-attempt"
	HeaderReason             = "x-reason"
	HeaderErrorMessage       = "x-error-message"
)

// kafkaWriter is the subset of *kafka.Writer the sink needs
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDeadLetterSink parks dead letters on a Kafka topic keyed by order id, so they can
// be inspected and replayed. The log sink still records every message.
type KafkaDeadLetterSink struct {
	writer kafkaWriter
	log    *LogDeadLetterSink
}

func NewKafkaDeadLetterSink(brokers []string, topic string, logger *zap.Logger) *KafkaDeadLetterSink {
	return newKafkaDeadLetterSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}, logger)
}

func newKafkaDeadLetterSink(writer kafkaWriter, logger *zap.Logger) *KafkaDeadLetterSink {
	return &KafkaDeadLetterSink{
		writer: writer,
		log:    NewLogDeadLetterSink(logger),
	}
}

func (s *KafkaDeadLetterSink) DeadLetter(ctx context.Context, event *events.Event, cause error) error {
	_ = s.log.DeadLetter(ctx, event, cause)

	body, err := event.ToJSON()
	if err != nil {
		return errors.Wrap(err, "failed to marshal dead letter")
	}

	routingKey, _ := event.Metadata.Get(events.MetadataRoutingKey)
	attempt, _ := event.Metadata.Get(events.MetadataAttempt)
	errMessage := ""
	if cause != nil {
		errMessage = cause.Error()
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: HeaderOriginalTopic, Value: []byte(event.Topic.String())},
			{Key: HeaderOriginalRoutingKey, Value: []byte(routingKey)},
			{Key: HeaderAttempt, Value: []byte(attempt)},
			{Key: HeaderReason, Value: []byte(deadLetterReason(cause))},
			{Key: HeaderErrorMessage, Value: []byte(errMessage)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to write dead letter to kafka")
	}
	return nil
}

func (s *KafkaDeadLetterSink) Close() error {
	return s.writer.Close()
}
