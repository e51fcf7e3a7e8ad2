// Package mocks holds testify mocks and recording fakes for the bus interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a testify mock of events.Publisher
type MockPublisher struct {
	mock.Mock
}

func NewMockPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPublisher {
	m := &MockPublisher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

// MockDeadLetterSink is a testify mock of events.DeadLetterSink
type MockDeadLetterSink struct {
	mock.Mock
}

func NewMockDeadLetterSink(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDeadLetterSink {
	m := &MockDeadLetterSink{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockDeadLetterSink) DeadLetter(ctx context.Context, event *events.Event, cause error) error {
	args := m.Called(ctx, event, cause)
	return args.Error(0)
}

// HasTopic matches a Publish call carrying a single event of topic.
func HasTopic(topic events.Topic) interface{} {
	return mock.MatchedBy(func(evts []*events.Event) bool {
		return len(evts) == 1 && evts[0].Topic == topic
	})
}

// RecordingPublisher keeps every published event. Safe for concurrent use.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
	err    error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (p *RecordingPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingPublisher) Publish(_ context.Context, evts ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evts...)
	return nil
}

// Events returns a snapshot of published events.
func (p *RecordingPublisher) Events() []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.Event(nil), p.events...)
}

// ByTopic returns published events of topic.
func (p *RecordingPublisher) ByTopic(topic events.Topic) []*events.Event {
	var out []*events.Event
	for _, evt := range p.Events() {
		if evt.Topic == topic {
			out = append(out, evt)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
