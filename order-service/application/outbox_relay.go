package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultOutboxInterval = 5 * time.Second

// outboxFlusher is the part of the orchestrator the relay drives
type outboxFlusher interface {
	FlushOutbox(ctx context.Context) (int, error)
}

// OutboxRelay periodically publishes outbox commands whose publish failed or whose
// claimant died, for orders that receive no further events.
type OutboxRelay struct {
	flusher  outboxFlusher
	interval time.Duration
	logger   *zap.Logger
}

// NewOutboxRelay creates a relay polling every interval
func NewOutboxRelay(flusher outboxFlusher, interval time.Duration, logger *zap.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = defaultOutboxInterval
	}
	return &OutboxRelay{flusher: flusher, interval: interval, logger: logger}
}

// Start launches the polling loop and returns. The loop stops with ctx.
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))
	go r.poll(ctx)
	return nil
}

func (r *OutboxRelay) poll(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		}
	}
}

// RunOnce flushes the outbox a single time
func (r *OutboxRelay) RunOnce(ctx context.Context) {
	flushed, err := r.flusher.FlushOutbox(ctx)
	if err != nil {
		r.logger.Error("outbox relay run failed", zap.Error(err))
		return
	}
	if flushed > 0 {
		r.logger.Info("outbox relayed", zap.Int("orders", flushed))
	}
}
