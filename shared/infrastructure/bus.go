package infrastructure

import (
	"context"

	sharedconfig "github.com/draftea/pizza-saga/shared/config"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Bus is a transport that can both publish and consume
type Bus interface {
	events.Publisher
	events.Subscriber
	Close() error
}

// awsBus pairs the SNS publisher with the SQS subscriber
type awsBus struct {
	*SNSPublisherAdapter
	*SQSSubscriberAdapter
}

func (b *awsBus) Close() error {
	if err := b.SQSSubscriberAdapter.Close(); err != nil {
		return err
	}
	return b.SNSPublisherAdapter.Close()
}

// NewBus builds the transport named by cfg.Bus.Driver
func NewBus(ctx context.Context, cfg sharedconfig.Infrastructure, deadLetters events.DeadLetterSink, logger *zap.Logger) (Bus, error) {
	switch cfg.Bus.Driver {
	case sharedconfig.BusMemory:
		return NewMemoryBus(events.Bindings, deadLetters, logger, WithMaxDeliveries(cfg.Bus.MaxDeliveries)), nil

	case sharedconfig.BusRabbitMQ:
		bus, err := NewRabbitMQBus(RabbitMQConfig{
			URL:                cfg.RabbitMQ.URL,
			Exchange:           cfg.RabbitMQ.Exchange,
			DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
			Prefetch:           cfg.RabbitMQ.Prefetch,
			Workers:            cfg.Bus.Workers,
			MaxDeliveries:      cfg.Bus.MaxDeliveries,
			Bindings:           events.Bindings,
		}, deadLetters, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil

	case sharedconfig.BusAWS:
		publisher, err := NewSNSPublisherAdapter(ctx, cfg.AWS.Region, cfg.AWS.SNSTopicArn, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create SNS publisher")
		}
		subscriber, err := NewSQSSubscriberAdapter(ctx, cfg.AWS.Region, cfg.AWS.SQSQueueURL, deadLetters, logger,
			WithWorkers(int32(cfg.Bus.Workers)),
			WithSQSMaxDeliveries(cfg.Bus.MaxDeliveries),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create SQS subscriber")
		}
		return &awsBus{SNSPublisherAdapter: publisher, SQSSubscriberAdapter: subscriber}, nil
	}

	return nil, errors.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// DeadLetterSinkCloser is a sink that may hold a connection
type DeadLetterSinkCloser interface {
	events.DeadLetterSink
	Close() error
}

type nopCloser struct {
	events.DeadLetterSink
}

func (nopCloser) Close() error { return nil }

// NewDeadLetterSink builds the sink named by cfg.Driver
func NewDeadLetterSink(cfg sharedconfig.DeadLetter, logger *zap.Logger) (DeadLetterSinkCloser, error) {
	switch cfg.Driver {
	case sharedconfig.DeadLetterLog, "":
		return nopCloser{NewLogDeadLetterSink(logger)}, nil
	case sharedconfig.DeadLetterKafka:
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("dead_letter.brokers is required for the kafka sink")
		}
		return NewKafkaDeadLetterSink(cfg.Brokers, cfg.Topic, logger), nil
	}
	return nil, errors.Errorf("unknown dead-letter driver %q", cfg.Driver)
}
