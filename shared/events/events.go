package events

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/draftea/pizza-saga/shared/models"
)

var (
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidReceiver = errors.New("receiver should be a pointer")
	ErrUnroutable      = errors.New("no route for topic")

	// ErrRejected marks a message that must never be redelivered, such as one for an unknown
	// order or one whose payload does not decode. Transports dead-letter it on first sight.
	ErrRejected = errors.New("message rejected")
)

// Topic represents a message type with AMQP-style pattern matching support
type Topic string

func NewTopic(topic string) (Topic, error) {
	if topic == "" {
		return "", ErrInvalidTopic
	}
	return Topic(topic), nil
}

// Matches reports whether t satisfies pattern, where "*" matches exactly one
// dotted word and "#" matches zero or more.
func (t Topic) Matches(pattern Topic) bool {
	return matchPattern(strings.Split(pattern.String(), "."), strings.Split(t.String(), "."))
}

func (t Topic) String() string {
	return string(t)
}

func matchPattern(patternParts, topicParts []string) bool {
	if len(patternParts) == 0 {
		return len(topicParts) == 0
	}

	if patternParts[0] == "#" {
		for i := 0; i <= len(topicParts); i++ {
			if matchPattern(patternParts[1:], topicParts[i:]) {
				return true
			}
		}
		return false
	}

	if len(topicParts) == 0 {
		return false
	}

	if patternParts[0] == "*" || patternParts[0] == topicParts[0] {
		return matchPattern(patternParts[1:], topicParts[1:])
	}

	return false
}

// Metadata represents event metadata
type Metadata map[string]string

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) Set(key string, value string) {
	m[key] = value
}

func (m Metadata) Clone() Metadata {
	clone := Metadata{}
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Metadata keys set by transports.
const (
	MetadataRoutingKey = "routing_key"
	MetadataAttempt    = "attempt"
)

// Event is the envelope for every command and event on the bus
type Event struct {
	ID            models.ID   `json:"id"`
	AggregateID   models.ID   `json:"aggregate_id"`
	Topic         Topic       `json:"topic"`
	Data          interface{} `json:"data"`
	Metadata      Metadata    `json:"metadata"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID models.ID   `json:"correlation_id"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Subscriber delivers every message arriving on queue to handler
type Subscriber interface {
	Subscribe(ctx context.Context, queue string, handler EventHandler) error
}

// EventHandler handles messages. A returned error asks the transport to redeliver.
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(ctx context.Context, event *Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// DeadLetterSink receives messages that will never be processed successfully
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, event *Event, cause error) error
}

// Journal stores every message the orchestrator handled or emitted, per order
type Journal interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, aggregateID models.ID) ([]*Event, error)
}

// NewEvent creates a new envelope for topic. The aggregate is also the correlation id,
// since every message in the saga belongs to exactly one order.
func NewEvent(aggregateID models.ID, topic Topic, data interface{}) *Event {
	return &Event{
		ID:            models.GenerateUUID(),
		AggregateID:   aggregateID,
		Topic:         topic,
		Data:          data,
		Metadata:      make(Metadata),
		Timestamp:     time.Now().UTC(),
		CorrelationID: aggregateID,
	}
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key string, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata.Set(key, value)
	return e
}

// ToJSON converts event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates event from JSON, keeping the payload raw until UnmarshalPayload
func FromJSON(data []byte) (*Event, error) {
	type envelope Event
	var raw struct {
		envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	event := Event(raw.envelope)
	event.Data = raw.Data
	if event.Metadata == nil {
		event.Metadata = make(Metadata)
	}
	return &event, nil
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	if b, ok := e.Data.([]byte); ok {
		return b, nil
	}

	if b, ok := e.Data.(json.RawMessage); ok {
		return b, nil
	}

	return json.Marshal(e.Data)
}

// UnmarshalPayload unmarshals the event payload into the given interface
func (e *Event) UnmarshalPayload(v interface{}) error {
	vValue := reflect.ValueOf(v)
	if vValue.Kind() != reflect.Ptr || vValue.IsNil() {
		return ErrInvalidReceiver
	}

	if e.Data == nil {
		return ErrInvalidPayload
	}

	vValue = vValue.Elem()
	payloadValue := reflect.ValueOf(e.Data)
	if vValue.Type() == payloadValue.Type() {
		vValue.Set(payloadValue)
		return nil
	}

	if payloadValue.Kind() == reflect.Ptr && !payloadValue.IsNil() && payloadValue.Elem().Type() == vValue.Type() {
		vValue.Set(payloadValue.Elem())
		return nil
	}

	raw, err := e.MarshalPayload()
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, v)
}

// Clone creates a copy of the event
func (e *Event) Clone() *Event {
	return &Event{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		Topic:         e.Topic,
		Data:          e.Data,
		Metadata:      e.Metadata.Clone(),
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
	}
}
