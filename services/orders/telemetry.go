package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func initTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
}

// checkoutMetrics agrupa os instrumentos OTel do checkout
type checkoutMetrics struct {
	placed    metric.Int64Counter
	failures  metric.Int64Counter
	unitsSold metric.Int64Counter
	duration  metric.Float64Histogram
}

func newCheckoutMetrics(meter metric.Meter) (*checkoutMetrics, error) {
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed by the checkout transaction."))
	if err != nil {
		return nil, fmt.Errorf("orders.placed: %w", err)
	}

	failures, err := meter.Int64Counter("orders.checkout.failures",
		metric.WithDescription("Checkout attempts that ended without an order, by error kind."))
	if err != nil {
		return nil, fmt.Errorf("orders.checkout.failures: %w", err)
	}

	unitsSold, err := meter.Int64Counter("orders.units_sold",
		metric.WithDescription("Units decremented from inventory by committed orders."))
	if err != nil {
		return nil, fmt.Errorf("orders.units_sold: %w", err)
	}

	duration, err := meter.Float64Histogram("orders.checkout.duration",
		metric.WithDescription("Checkout latency including retries."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("orders.checkout.duration: %w", err)
	}

	return &checkoutMetrics{
		placed:    placed,
		failures:  failures,
		unitsSold: unitsSold,
		duration:  duration,
	}, nil
}

func (m *checkoutMetrics) recordSuccess(ctx context.Context, units int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.placed.Add(ctx, 1)
	m.unitsSold.Add(ctx, int64(units))
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(attribute.String("outcome", "placed")))
}

func (m *checkoutMetrics) recordFailure(ctx context.Context, kind ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
	m.failures.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(attribute.String("outcome", string(kind))))
}
