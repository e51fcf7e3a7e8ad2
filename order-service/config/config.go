package config

import (
	"time"

	sharedconfig "github.com/draftea/pizza-saga/shared/config"
)

const serviceName = "order-service"

type Config struct {
	sharedconfig.Service        `mapstructure:",squash"`
	sharedconfig.Infrastructure `mapstructure:",squash"`
	Saga                        Saga `mapstructure:"saga"`
}

// Saga tunes the orchestrator
type Saga struct {
	MaxRetries int `mapstructure:"max_retries"`
	// OutboxClaimTTL is how long a writer owns the commands it enqueued
	OutboxClaimTTL time.Duration `mapstructure:"outbox_claim_ttl"`
	// OutboxInterval is how often the relay looks for unpublished commands
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

// ReadConfig loads <ENVIRONMENT>.json and ORDER_* environment overrides
func ReadConfig() (*Config, error) {
	v := sharedconfig.NewViper(serviceName, "ORDER")
	v.SetDefault("saga.max_retries", 5)
	v.SetDefault("saga.outbox_claim_ttl", "30s")
	v.SetDefault("saga.outbox_interval", "5s")

	var cfg Config
	if err := sharedconfig.Read(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
