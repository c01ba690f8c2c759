// Package telemetry installs the trace and meter providers and exposes the
// engine's spans and instruments.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/steemit/pulse/pkg/config"
	"github.com/steemit/pulse/pkg/logging"
)

const (
	version         = "0.3.0"
	shutdownTimeout = 5 * time.Second
)

var tracer trace.Tracer

// shutdownFunc flushes and stops one SDK provider
type shutdownFunc func(context.Context) error

// Init installs the Jaeger trace pipeline and the Prometheus meter pipeline
// that cfg enables, binds the engine instruments to the resulting meter and
// returns a function that flushes both on exit.
func Init(cfg *config.TelemetryConfig) (func(), error) {
	logger := logging.GetLogger().With(zap.String("component", "telemetry"))
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return func() {}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var shutdowns []shutdownFunc
	if cfg.JaegerURL != "" {
		fn, err := installTracing(cfg.JaegerURL, res)
		if err != nil {
			return nil, err
		}
		shutdowns = append(shutdowns, fn)
		logger.Info("Tracing to Jaeger", zap.String("url", cfg.JaegerURL))
	}
	if cfg.PrometheusEnabled {
		fn, err := installMetrics(res)
		if err != nil {
			return nil, err
		}
		shutdowns = append(shutdowns, fn)
		logger.Info("Metrics exported for Prometheus", zap.Int("port", cfg.PrometheusPort))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = otel.Tracer(cfg.ServiceName)
	initInstruments(otel.Meter(cfg.ServiceName))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownAll(ctx, shutdowns); err != nil {
			logger.Error("Telemetry shutdown incomplete", zap.Error(err))
		}
	}, nil
}

func installTracing(endpoint string, res *resource.Resource) (shutdownFunc, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// installMetrics registers the exporter with the default Prometheus registry,
// which cmd/server serves through promhttp.
func installMetrics(res *resource.Resource) (shutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// shutdownAll stops every provider under one deadline and joins their errors
func shutdownAll(ctx context.Context, fns []shutdownFunc) error {
	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the engine tracer, a no-op one before Init
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("pulse")
	}
	return tracer
}

// StartSpan starts a span on the engine tracer
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
