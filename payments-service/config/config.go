package config

import (
	"time"

	sharedconfig "github.com/draftea/pizza-saga/shared/config"
)

const serviceName = "payments-service"

type Config struct {
	sharedconfig.Service        `mapstructure:",squash"`
	sharedconfig.Infrastructure `mapstructure:",squash"`
	Simulation                  sharedconfig.Simulation `mapstructure:"simulation"`
}

// ReadConfig loads <ENVIRONMENT>.json and PAYMENT_* environment overrides
func ReadConfig() (*Config, error) {
	v := sharedconfig.NewViper(serviceName, "PAYMENT")
	sharedconfig.SetSimulationDefaults(v, 0.3, time.Second)

	var cfg Config
	if err := sharedconfig.Read(v, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Simulation.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
