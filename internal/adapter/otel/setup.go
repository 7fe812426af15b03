// Package otel wires OpenTelemetry metrics for the sync client. Export is
// opt-in: when no endpoint is configured the global meter provider stays a
// no-op and every instrument call is free.
package otel

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/scholarline/taskdesk/internal/config"
)

// ShutdownFunc flushes pending metric batches and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// InitMetrics installs an OTLP/gRPC meter provider when cfg.Enabled is set.
// Disabled metrics return a no-op shutdown so callers never branch.
func InitMetrics(ctx context.Context, cfg config.Metrics, log *slog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("taskdesk"),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
	otel.SetMeterProvider(provider)
	log.Info("metrics export enabled", "endpoint", cfg.Endpoint)

	return provider.Shutdown, nil
}
