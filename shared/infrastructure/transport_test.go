package infrastructure

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/mocks"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSNS struct {
	mu      sync.Mutex
	inputs  []*sns.PublishBatchInput
	failIDs map[string]bool
}

func (f *fakeSNS) PublishBatch(_ context.Context, in *sns.PublishBatchInput, _ ...func(*sns.Options)) (*sns.PublishBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)

	out := &sns.PublishBatchOutput{}
	for _, entry := range in.PublishBatchRequestEntries {
		if f.failIDs[aws.ToString(entry.Id)] {
			out.Failed = append(out.Failed, snstypes.BatchResultErrorEntry{Id: entry.Id, Code: aws.String("Throttled")})
		}
	}
	return out, nil
}

func TestSNSEventPublisher_BatchesWithRoutingKeyAttribute(t *testing.T) {
	client := &fakeSNS{}
	publisher := NewSNSEventPublisher(client, "arn:topic", zaptest.NewLogger(t))

	orderID := models.GenerateUUID()
	evts := make([]*events.Event, 0, 12)
	for i := 0; i < 12; i++ {
		evts = append(evts, events.NewPreparePizza(events.PreparePizzaCommand{OrderID: orderID, PizzaType: "Pepperoni", Quantity: 1}))
	}

	require.NoError(t, publisher.Publish(context.Background(), evts...))

	require.Len(t, client.inputs, 2)
	total := 0
	for _, in := range client.inputs {
		total += len(in.PublishBatchRequestEntries)
		entry := in.PublishBatchRequestEntries[0]
		assert.Equal(t, events.KitchenCommandRoutingKey, aws.ToString(entry.MessageAttributes[events.MetadataRoutingKey].StringValue))

		decoded, err := events.FromJSON([]byte(aws.ToString(entry.Message)))
		require.NoError(t, err)
		assert.Equal(t, events.PreparePizzaCommandTopic, decoded.Topic)

		var cmd events.PreparePizzaCommand
		require.NoError(t, decoded.UnmarshalPayload(&cmd))
		assert.Equal(t, orderID, cmd.OrderID)
	}
	assert.Equal(t, 12, total)
}

func TestSNSEventPublisher_ReportsFailedEntries(t *testing.T) {
	evt := events.NewRefundPayment(events.RefundPaymentCommand{OrderID: models.GenerateUUID()})
	client := &fakeSNS{failIDs: map[string]bool{evt.ID.String(): true}}
	publisher := NewSNSEventPublisher(client, "arn:topic", zaptest.NewLogger(t))

	err := publisher.Publish(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), evt.ID.String())
}

type fakeSQS struct {
	mu         sync.Mutex
	deleted    []string
	visibility []int32
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, in.VisibilityTimeout)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func sqsDelivery(receiveCount string, err error) *sqsMessage {
	return &sqsMessage{
		Message: sqstypes.Message{
			ReceiptHandle: aws.String("receipt-" + receiveCount),
			Attributes: map[string]string{
				string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount): receiveCount,
			},
		},
		Event: events.NewPaymentProcessed(events.PaymentProcessedEvent{OrderID: models.GenerateUUID()}),
		Err:   err,
	}
}

func TestSQSEventSubscriber_Clean(t *testing.T) {
	transient := errors.New("transient")

	tests := []struct {
		name           string
		message        *sqsMessage
		wantDeleted    bool
		wantVisibility bool
		wantDeadLetter bool
	}{
		{name: "success deletes", message: sqsDelivery("1", nil), wantDeleted: true},
		{name: "failure backs off", message: sqsDelivery("1", transient), wantVisibility: true},
		{name: "exhausted failure dead-letters", message: sqsDelivery("3", transient), wantDeleted: true, wantDeadLetter: true},
		{name: "rejected dead-letters at once", message: sqsDelivery("1", errors.Wrap(events.ErrRejected, "unknown order")), wantDeleted: true, wantDeadLetter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSQS{}
			sink := mocks.NewMockDeadLetterSink(t)
			if tt.wantDeadLetter {
				sink.On("DeadLetter", mock.Anything, tt.message.Event, tt.message.Err).Return(nil).Once()
			}

			subscriber := NewSQSEventSubscriber(client, "http://queue", nil, sink, zaptest.NewLogger(t), WithSQSMaxDeliveries(3))
			require.NoError(t, subscriber.clean(context.Background(), tt.message))

			assert.Equal(t, tt.wantDeleted, len(client.deleted) == 1)
			assert.Equal(t, tt.wantVisibility, len(client.visibility) == 1)
		})
	}
}

type fakeKafkaWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaDeadLetterSink(t *testing.T) {
	writer := &fakeKafkaWriter{}
	sink := newKafkaDeadLetterSink(writer, zaptest.NewLogger(t))

	orderID := models.GenerateUUID()
	evt := events.NewPizzaPrepared(events.PizzaPreparedEvent{OrderID: orderID}).
		WithMetadata(events.MetadataRoutingKey, events.OrderEventRoutingKey).
		WithMetadata(events.MetadataAttempt, "1")

	require.NoError(t, sink.DeadLetter(context.Background(), evt, errors.Wrap(events.ErrRejected, "order not found")))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, orderID.String(), string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, events.PizzaPreparedTopic.String(), headers[HeaderOriginalTopic])
	assert.Equal(t, events.OrderEventRoutingKey, headers[HeaderOriginalRoutingKey])
	assert.Equal(t, DeadLetterReasonRejected, headers[HeaderReason])
	assert.Contains(t, headers[HeaderErrorMessage], "order not found")

	decoded, err := events.FromJSON(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, decoded.ID)
}

func TestKafkaDeadLetterSink_WriteError(t *testing.T) {
	sink := newKafkaDeadLetterSink(&fakeKafkaWriter{err: errors.New("broker down")}, zaptest.NewLogger(t))

	evt := events.NewDeliveryFailed(events.DeliveryFailedEvent{OrderID: models.GenerateUUID()})
	assert.Error(t, sink.DeadLetter(context.Background(), evt, errors.New("exhausted")))
}

func TestMemorySagaJournal(t *testing.T) {
	journal := NewMemorySagaJournal()
	ctx := context.Background()
	orderID := models.GenerateUUID()

	first := events.NewProcessPayment(events.ProcessPaymentCommand{OrderID: orderID})
	second := events.NewPaymentProcessed(events.PaymentProcessedEvent{OrderID: orderID})

	require.NoError(t, journal.Append(ctx, first))
	require.NoError(t, journal.Append(ctx, second))
	require.NoError(t, journal.Append(ctx, second))
	require.NoError(t, journal.Append(ctx, events.NewProcessPayment(events.ProcessPaymentCommand{OrderID: models.GenerateUUID()})))

	entries, err := journal.List(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
}
