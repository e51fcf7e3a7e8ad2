// Command pizza-saga runs the orchestrator and the three participants in one process,
// sharing a single transport. Useful with the memory bus, where messages never leave
// the process, and for local runs against one RabbitMQ broker.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	deliveryconfig "github.com/draftea/pizza-saga/delivery-service/config"
	kitchenconfig "github.com/draftea/pizza-saga/kitchen-service/config"
	orderconfig "github.com/draftea/pizza-saga/order-service/config"
	paymentconfig "github.com/draftea/pizza-saga/payments-service/config"
	sharedconfig "github.com/draftea/pizza-saga/shared/config"
	sharedinfra "github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/draftea/pizza-saga/shared/logger"
	"github.com/draftea/pizza-saga/shared/server"
	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// configs holds every service section. Infrastructure always comes from the order service.
type configs struct {
	order    *orderconfig.Config
	payment  *paymentconfig.Config
	kitchen  *kitchenconfig.Config
	delivery *deliveryconfig.Config
}

func main() {
	cfgs, err := readConfigs()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New("pizza-saga", cfgs.order.Env, cfgs.order.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if err := run(cfgs, l); err != nil {
		l.Fatal("pizza-saga stopped with error", zap.Error(err))
	}
}

func readConfigs() (*configs, error) {
	order, err := orderconfig.ReadConfig()
	if err != nil {
		return nil, err
	}
	payment, err := paymentconfig.ReadConfig()
	if err != nil {
		return nil, err
	}
	kitchen, err := kitchenconfig.ReadConfig()
	if err != nil {
		return nil, err
	}
	delivery, err := deliveryconfig.ReadConfig()
	if err != nil {
		return nil, err
	}
	return &configs{order: order, payment: payment, kitchen: kitchen, delivery: delivery}, nil
}

func run(cfgs *configs, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra := cfgs.order.Infrastructure
	logger.Info("starting all-in-one", zap.String("port", cfgs.order.Port), zap.String("bus", infra.Bus.Driver), zap.String("storage", infra.Storage.Driver))

	var tel *telemetry.Telemetry
	if infra.Telemetry.Enabled {
		var shutdown func()
		var err error
		tel, shutdown, err = telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName:    "pizza-saga",
			ServiceVersion: telemetry.OrderServiceConfig.ServiceVersion,
		}.WithOTLPEndpoint(infra.Telemetry.OTLPEndpoint))
		if err != nil {
			return err
		}
		defer shutdown()
		ctx = telemetry.WithTelemetry(ctx, tel)
	}

	transport, err := sharedinfra.OpenTransport(ctx, infra, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("error closing transport", zap.Error(err))
		}
	}()

	app, err := buildApp(ctx, cfgs, transport, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	router := server.NewRouter(tel, app.order.OrderHandlers, app.payment.PaymentHandlers, app.kitchen.KitchenHandlers, app.delivery.DeliveryHandlers)
	return server.Run(ctx, ":"+cfgs.order.Port, router, logger, app.consumers()...)
}

type app struct {
	order    *orderconfig.Dependencies
	payment  *paymentconfig.Dependencies
	kitchen  *kitchenconfig.Dependencies
	delivery *deliveryconfig.Dependencies
}

// buildApp wires the four services on one transport. A failure closes whatever was already built.
func buildApp(ctx context.Context, cfgs *configs, transport *sharedinfra.Transport, logger *zap.Logger) (_ *app, err error) {
	infra := cfgs.order.Infrastructure
	if infra.Bus.Driver == sharedconfig.BusAWS {
		return nil, errors.New("the aws bus consumes one queue per process, run the services separately")
	}
	cfgs.payment.Infrastructure = infra
	cfgs.kitchen.Infrastructure = infra
	cfgs.delivery.Infrastructure = infra

	a := &app{}
	defer func() {
		if err != nil {
			a.close(logger)
		}
	}()

	if a.order, err = orderconfig.BuildDependencies(ctx, cfgs.order, transport, logger.Named("order")); err != nil {
		return nil, err
	}
	if a.payment, err = paymentconfig.BuildDependencies(ctx, cfgs.payment, transport, logger.Named("payment")); err != nil {
		return nil, err
	}
	if a.kitchen, err = kitchenconfig.BuildDependencies(ctx, cfgs.kitchen, transport, logger.Named("kitchen")); err != nil {
		return nil, err
	}
	if a.delivery, err = deliveryconfig.BuildDependencies(ctx, cfgs.delivery, transport, logger.Named("delivery")); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) consumers() []server.Consumer {
	return []server.Consumer{a.order.Subscribe, a.payment.Subscribe, a.kitchen.Subscribe, a.delivery.Subscribe}
}

func (a *app) close(logger *zap.Logger) {
	closers := map[string]interface{ Close() error }{}
	if a.order != nil {
		closers["order"] = a.order
	}
	if a.payment != nil {
		closers["payment"] = a.payment
	}
	if a.kitchen != nil {
		closers["kitchen"] = a.kitchen
	}
	if a.delivery != nil {
		closers["delivery"] = a.delivery
	}
	for name, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("error closing dependencies", zap.String("service", name), zap.Error(err))
		}
	}
}
