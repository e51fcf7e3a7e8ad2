package infrastructure

import (
	"context"
	"sync"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/models"
)

var _ events.Journal = (*MemorySagaJournal)(nil)

type MemorySagaJournal struct {
	mu      sync.RWMutex
	seen    map[models.ID]struct{}
	entries map[models.ID][]*events.Event
}

func NewMemorySagaJournal() *MemorySagaJournal {
	return &MemorySagaJournal{
		seen:    make(map[models.ID]struct{}),
		entries: make(map[models.ID][]*events.Event),
	}
}

func (j *MemorySagaJournal) Append(_ context.Context, event *events.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.seen[event.ID]; ok {
		return nil
	}
	j.seen[event.ID] = struct{}{}
	j.entries[event.AggregateID] = append(j.entries[event.AggregateID], event.Clone())
	return nil
}

func (j *MemorySagaJournal) List(_ context.Context, aggregateID models.ID) ([]*events.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries := j.entries[aggregateID]
	out := make([]*events.Event, len(entries))
	copy(out, entries)
	return out, nil
}
