package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/draftea/pizza-saga/delivery-service/config"
	sharedinfra "github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/draftea/pizza-saga/shared/logger"
	"github.com/draftea/pizza-saga/shared/server"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if err := run(cfg, l); err != nil {
		l.Fatal("delivery-service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting service", zap.String("port", cfg.Port), zap.String("bus", cfg.Bus.Driver), zap.String("storage", cfg.Storage.Driver))

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		var shutdown func()
		var err error
		tel, shutdown, err = telemetry.InitTelemetry(ctx, telemetry.DeliveryServiceConfig.WithOTLPEndpoint(cfg.Telemetry.OTLPEndpoint))
		if err != nil {
			return err
		}
		defer shutdown()
		ctx = telemetry.WithTelemetry(ctx, tel)
	}

	transport, err := sharedinfra.OpenTransport(ctx, cfg.Infrastructure, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("error closing transport", zap.Error(err))
		}
	}()

	// Initialize dependencies
	deps, err := config.BuildDependencies(ctx, cfg, transport, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("error closing dependencies", zap.Error(err))
		}
	}()

	router := server.NewRouter(tel, deps.DeliveryHandlers)
	return server.Run(ctx, ":"+cfg.Port, router, logger, deps.Subscribe)
}
