// Package server holds the HTTP surface every saga service exposes and the
// run loop that ties it to the bus consumers.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/draftea/pizza-saga/shared/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// RouteRegistrar adds a service's routes to the router
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// NewRouter builds the common router: middleware, /health, /metrics and the service routes
func NewRouter(tel *telemetry.Telemetry, registrars ...RouteRegistrar) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if tel != nil {
		r.Use(telemetry.Middleware(tel))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", telemetry.NewMetricsHandler())

	for _, registrar := range registrars {
		registrar.RegisterRoutes(r)
	}
	return r
}

// Consumer starts consuming a queue and returns once consumption has started
type Consumer func(ctx context.Context) error

// Run starts the consumers, then serves HTTP on addr until ctx is cancelled and
// shuts the server down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger, consumers ...Consumer) error {
	for _, consume := range consumers {
		if err := consume(ctx); err != nil {
			return errors.Wrap(err, "failed to start consumer")
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	gr, ctx := errgroup.WithContext(ctx)
	gr.Go(func() error {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	gr.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return gr.Wait()
}
