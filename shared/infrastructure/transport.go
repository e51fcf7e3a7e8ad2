package infrastructure

import (
	"context"

	sharedconfig "github.com/draftea/pizza-saga/shared/config"
	"go.uber.org/zap"
)

// Transport is the bus together with the dead-letter sink it hands poison messages to.
// Services sharing one process share one Transport.
type Transport struct {
	Bus         Bus
	DeadLetters DeadLetterSinkCloser
}

// OpenTransport builds the dead-letter sink and the bus named by cfg
func OpenTransport(ctx context.Context, cfg sharedconfig.Infrastructure, logger *zap.Logger) (*Transport, error) {
	deadLetters, err := NewDeadLetterSink(cfg.DeadLetter, logger)
	if err != nil {
		return nil, err
	}

	bus, err := NewBus(ctx, cfg, deadLetters, logger)
	if err != nil {
		_ = deadLetters.Close()
		return nil, err
	}

	return &Transport{Bus: bus, DeadLetters: deadLetters}, nil
}

// Close stops the bus before the sink so in-flight dead letters are still written
func (t *Transport) Close() error {
	busErr := t.Bus.Close()
	sinkErr := t.DeadLetters.Close()
	if busErr != nil {
		return busErr
	}
	return sinkErr
}
