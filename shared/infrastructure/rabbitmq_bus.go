package infrastructure

import (
	"context"
	"strconv"
	"sync"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	_ events.Publisher  = (*RabbitMQBus)(nil)
	_ events.Subscriber = (*RabbitMQBus)(nil)
)

const (
	headerAttempt   = "x-attempt"
	deadQueueSuffix = ".dlq"
)

// RabbitMQConfig configures the topic exchange topology
type RabbitMQConfig struct {
	URL                string
	Exchange           string
	DeadLetterExchange string
	Prefetch           int
	Workers            int
	MaxDeliveries      int
	// Bindings maps every queue to the routing key it is bound with.
	Bindings map[string]string
}

// RabbitMQBus publishes to a durable topic exchange and consumes from durable queues.
// Every queue dead-letters into DeadLetterExchange, where a ".dlq" queue keeps the message.
type RabbitMQBus struct {
	config      RabbitMQConfig
	conn        *amqp.Connection
	pubMu       sync.Mutex
	pubCh       *amqp.Channel
	deadLetters events.DeadLetterSink
	logger      *zap.Logger
}

// NewRabbitMQBus dials the broker and declares the whole topology
func NewRabbitMQBus(config RabbitMQConfig, deadLetters events.DeadLetterSink, logger *zap.Logger) (*RabbitMQBus, error) {
	if config.Prefetch <= 0 {
		config.Prefetch = 10
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to open rabbitmq channel")
	}

	b := &RabbitMQBus{
		config:      config,
		conn:        conn,
		pubCh:       ch,
		deadLetters: deadLetters,
		logger:      logger.With(zap.String("bus", "rabbitmq")),
	}

	if err := b.declareTopology(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return b, nil
}

func (b *RabbitMQBus) declareTopology() error {
	for _, exchange := range []string{b.config.Exchange, b.config.DeadLetterExchange} {
		if err := b.pubCh.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "failed to declare exchange %s", exchange)
		}
	}

	for queue, key := range b.config.Bindings {
		if _, err := b.pubCh.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": b.config.DeadLetterExchange,
		}); err != nil {
			return errors.Wrapf(err, "failed to declare queue %s", queue)
		}
		if err := b.pubCh.QueueBind(queue, key, b.config.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "failed to bind queue %s", queue)
		}

		deadQueue := queue + deadQueueSuffix
		if _, err := b.pubCh.QueueDeclare(deadQueue, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "failed to declare queue %s", deadQueue)
		}
		if err := b.pubCh.QueueBind(deadQueue, key, b.config.DeadLetterExchange, false, nil); err != nil {
			return errors.Wrapf(err, "failed to bind queue %s", deadQueue)
		}
	}

	return nil
}

// Publish sends each event to the exchange with its routing key
func (b *RabbitMQBus) Publish(ctx context.Context, evts ...*events.Event) error {
	for _, evt := range evts {
		if err := b.publish(ctx, evt, 1); err != nil {
			return err
		}
	}
	return nil
}

func (b *RabbitMQBus) publish(ctx context.Context, evt *events.Event, attempt int) error {
	key, err := events.RoutingKey(evt.Topic)
	if err != nil {
		return errors.Wrapf(err, "failed to route %s", evt.Topic)
	}

	msg := evt.Clone()
	msg.Metadata.Set(events.MetadataRoutingKey, key)
	msg.Metadata.Set(events.MetadataAttempt, strconv.Itoa(attempt))

	body, err := msg.ToJSON()
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	err = b.pubCh.PublishWithContext(ctx, b.config.Exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     evt.ID.String(),
		CorrelationId: evt.CorrelationID.String(),
		Type:          evt.Topic.String(),
		Timestamp:     evt.Timestamp,
		Headers:       amqp.Table{headerAttempt: int32(attempt)},
		Body:          body,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to publish %s", evt.Topic)
	}
	return nil
}

// Subscribe starts Workers consumers on queue. It returns once consuming has started,
// the consumers stop when ctx is cancelled.
func (b *RabbitMQBus) Subscribe(ctx context.Context, queue string, handler events.EventHandler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open rabbitmq channel")
	}

	if err := ch.Qos(b.config.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return errors.Wrap(err, "failed to set prefetch")
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return errors.Wrapf(err, "failed to consume %s", queue)
	}

	log := b.logger.With(zap.String("queue", queue))
	log.Info("consumer started", zap.Int("workers", b.config.Workers))

	go func() {
		defer ch.Close()

		gr, ctx := errgroup.WithContext(ctx)
		for i := 0; i < b.config.Workers; i++ {
			gr.Go(func() error {
				for d := range deliveries {
					b.handle(ctx, log, handler, d)
				}
				return nil
			})
		}
		_ = gr.Wait()
		log.Info("consumer stopped")
	}()

	return nil
}

func (b *RabbitMQBus) handle(ctx context.Context, log *zap.Logger, handler events.EventHandler, d amqp.Delivery) {
	evt, err := events.FromJSON(d.Body)
	if err != nil {
		log.Error("dropping malformed message", zap.String("message_id", d.MessageId), zap.Error(err))
		// Without requeue the broker routes it to the dead-letter exchange.
		nack(log, d, false)
		return
	}

	attempt := attemptOf(d.Headers)
	evt.Metadata.Set(events.MetadataRoutingKey, d.RoutingKey)
	evt.Metadata.Set(events.MetadataAttempt, strconv.Itoa(attempt))

	err = handler.Handle(ctx, evt)
	if err == nil {
		ack(log, d)
		return
	}

	log = log.With(
		zap.String("topic", evt.Topic.String()),
		zap.String("order_id", evt.AggregateID.String()),
		zap.Int("attempt", attempt),
	)

	if !errors.Is(err, events.ErrRejected) && attempt < b.config.MaxDeliveries {
		log.Warn("delivery failed, redelivering", zap.Error(err))
		if pubErr := b.publish(ctx, evt, attempt+1); pubErr != nil {
			log.Error("failed to redeliver, requeueing", zap.Error(pubErr))
			nack(log, d, true)
			return
		}
		ack(log, d)
		return
	}

	if dlErr := b.deadLetters.DeadLetter(ctx, evt, err); dlErr != nil {
		log.Error("failed to dead-letter message", zap.Error(dlErr))
	}
	nack(log, d, false)
}

// ack and nack log settle failures. The broker then redelivers the message once the
// channel closes.
func ack(log *zap.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error("failed to ack message", zap.String("message_id", d.MessageId), zap.Error(err))
	}
}

func nack(log *zap.Logger, d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		log.Error("failed to nack message",
			zap.String("message_id", d.MessageId),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
	}
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[headerAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

func (b *RabbitMQBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}
