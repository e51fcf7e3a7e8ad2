package infrastructure

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SQSSubscriberAdapter serves events.Subscriber from a single SQS queue. The queue is
// subscribed to the SNS topic with a routing_key filter, so the queue name passed to
// Subscribe is only used for logging.
type SQSSubscriberAdapter struct {
	mu          sync.Mutex
	client      sqsAPI
	queueURL    string
	deadLetters events.DeadLetterSink
	logger      *zap.Logger
	opts        []SQSSubscriberOption
	subscriber  *SQSEventSubscriber
}

// NewSQSSubscriberAdapter creates a new SQS subscriber adapter
func NewSQSSubscriberAdapter(
	ctx context.Context,
	region, queueURL string,
	deadLetters events.DeadLetterSink,
	logger *zap.Logger,
	opts ...SQSSubscriberOption,
) (*SQSSubscriberAdapter, error) {
	cfg, err := loadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}

	return &SQSSubscriberAdapter{
		client:      sqs.NewFromConfig(cfg),
		queueURL:    queueURL,
		deadLetters: deadLetters,
		logger:      logger,
		opts:        opts,
	}, nil
}

// Subscribe implements events.Subscriber interface
func (s *SQSSubscriberAdapter) Subscribe(ctx context.Context, queue string, handler events.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscriber != nil {
		return errors.New("subscriber is already running")
	}

	s.subscriber = NewSQSEventSubscriber(s.client, s.queueURL, handler, s.deadLetters,
		s.logger.With(zap.String("queue", queue)), s.opts...)

	if err := s.subscriber.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start SQS subscriber")
	}

	return nil
}

// Close stops the subscriber
func (s *SQSSubscriberAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscriber == nil {
		return nil
	}

	if err := s.subscriber.Stop(context.Background()); err != nil {
		return errors.Wrap(err, "failed to stop SQS subscriber")
	}

	s.subscriber = nil
	return nil
}
