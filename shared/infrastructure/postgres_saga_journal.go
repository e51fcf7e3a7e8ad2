package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var _ events.Journal = (*PostgresSagaJournal)(nil)

// PostgresSagaJournal keeps every message handled or emitted for an order in saga_journal.
// Redelivered messages keep their id, so they are recorded once.
type PostgresSagaJournal struct {
	db *sqlx.DB
}

// NewPostgresSagaJournal creates a new PostgresSagaJournal
func NewPostgresSagaJournal(db *sqlx.DB) *PostgresSagaJournal {
	return &PostgresSagaJournal{db: db}
}

// journalEntry keeps JSONB columns as strings, lib/pq would send []byte as bytea
type journalEntry struct {
	Seq           int64     `db:"seq"`
	ID            string    `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	Topic         string    `db:"topic"`
	Data          string    `db:"data"`
	Metadata      string    `db:"metadata"`
	Timestamp     time.Time `db:"timestamp"`
	CorrelationID string    `db:"correlation_id"`
}

func (j *PostgresSagaJournal) Append(ctx context.Context, event *events.Event) error {
	entry, err := toJournalEntry(event)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO saga_journal (
			id, aggregate_id, topic, data, metadata, timestamp, correlation_id
		) VALUES (
			:id, :aggregate_id, :topic, :data, :metadata, :timestamp, :correlation_id
		)
		ON CONFLICT (id) DO NOTHING`

	if _, err := j.db.NamedExecContext(ctx, query, entry); err != nil {
		return errors.Wrap(err, "failed to append journal entry")
	}
	return nil
}

// List returns the entries of an order in append order
func (j *PostgresSagaJournal) List(ctx context.Context, aggregateID models.ID) ([]*events.Event, error) {
	query := `
		SELECT seq, id, aggregate_id, topic, data, metadata, timestamp, correlation_id
		FROM saga_journal
		WHERE aggregate_id = $1
		ORDER BY seq ASC`

	var entries []journalEntry
	if err := j.db.SelectContext(ctx, &entries, query, aggregateID.String()); err != nil {
		return nil, errors.Wrap(err, "failed to list journal entries")
	}

	evts := make([]*events.Event, len(entries))
	for i := range entries {
		evt, err := entries[i].toEvent()
		if err != nil {
			return nil, err
		}
		evts[i] = evt
	}
	return evts, nil
}

func toJournalEntry(event *events.Event) (*journalEntry, error) {
	data, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	return &journalEntry{
		ID:            event.ID.String(),
		AggregateID:   event.AggregateID.String(),
		Topic:         event.Topic.String(),
		Data:          string(data),
		Metadata:      string(metadata),
		Timestamp:     event.Timestamp,
		CorrelationID: event.CorrelationID.String(),
	}, nil
}

func (e *journalEntry) toEvent() (*events.Event, error) {
	metadata := make(events.Metadata)
	if len(e.Metadata) > 0 {
		if err := json.Unmarshal([]byte(e.Metadata), &metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal event metadata")
		}
	}

	return &events.Event{
		ID:            models.ID(e.ID),
		AggregateID:   models.ID(e.AggregateID),
		Topic:         events.Topic(e.Topic),
		Data:          json.RawMessage(e.Data),
		Metadata:      metadata,
		Timestamp:     e.Timestamp,
		CorrelationID: models.ID(e.CorrelationID),
	}, nil
}
