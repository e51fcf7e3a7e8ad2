package telemetry

// Telemetry configurations of the saga services
var (
	OrderServiceConfig = Config{
		ServiceName:    "order-service",
		ServiceVersion: "1.0.0",
	}

	PaymentServiceConfig = Config{
		ServiceName:    "payment-service",
		ServiceVersion: "1.0.0",
	}

	KitchenServiceConfig = Config{
		ServiceName:    "kitchen-service",
		ServiceVersion: "1.0.0",
	}

	DeliveryServiceConfig = Config{
		ServiceName:    "delivery-service",
		ServiceVersion: "1.0.0",
	}
)

// WithOTLPEndpoint sets the OTLP endpoint for a config
func (c Config) WithOTLPEndpoint(endpoint string) Config {
	c.OTLPEndpoint = endpoint
	return c
}
