// Package saga holds the message routing shared by every saga service and the journal
// the orchestrator keeps of each order's conversation.
package saga

import (
	"context"

	"github.com/draftea/pizza-saga/shared/events"
	"go.uber.org/zap"
)

// JournalingPublisher records every message it publishes. Journal failures are logged,
// they never fail the publish.
type JournalingPublisher struct {
	publisher events.Publisher
	journal   events.Journal
	logger    *zap.Logger
}

var _ events.Publisher = (*JournalingPublisher)(nil)

func NewJournalingPublisher(publisher events.Publisher, journal events.Journal, logger *zap.Logger) *JournalingPublisher {
	return &JournalingPublisher{
		publisher: publisher,
		journal:   journal,
		logger:    logger,
	}
}

func (p *JournalingPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if err := p.publisher.Publish(ctx, evts...); err != nil {
		return err
	}

	for _, evt := range evts {
		if err := p.journal.Append(ctx, evt); err != nil {
			p.logger.Error("failed to journal message",
				zap.String("topic", evt.Topic.String()),
				zap.String("order_id", evt.AggregateID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
