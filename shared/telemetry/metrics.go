package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler serves the prometheus registry the otel exporter writes to
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}
