// Package exporters builds the OpenTelemetry exporters observe.Config names.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrEndpointNotConfigured reports a remote exporter without an endpoint.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")

	// ErrUnknownExporter reports an exporter name with no factory.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")
)

// None disables a signal. The factories return a nil exporter for it.
const None = "none"

type (
	spanFactory   func(ctx context.Context) (sdktrace.SpanExporter, error)
	readerFactory func(ctx context.Context) (sdkmetric.Reader, error)
)

var spanFactories = map[string]spanFactory{
	"stdout": func(context.Context) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	},
	"otlp": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		if _, err := endpointFrom("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger accepts OTLP on its collector port.
	"jaeger": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		ep, err := endpointFrom("OTEL_EXPORTER_JAEGER_ENDPOINT")
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(ep), otlptracegrpc.WithInsecure())
	},
}

var readerFactories = map[string]readerFactory{
	"stdout": func(context.Context) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	"otlp": func(ctx context.Context) (sdkmetric.Reader, error) {
		if _, err := endpointFrom("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	// Registers with the default Prometheus registerer; serve it with promhttp.
	"prometheus": func(context.Context) (sdkmetric.Reader, error) {
		return prometheus.New()
	},
}

func endpointFrom(vars ...string) (string, error) {
	for _, name := range vars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: set one of %v", ErrEndpointNotConfigured, vars)
}

// IsTracing reports whether name selects a tracing exporter or None.
func IsTracing(name string) bool {
	_, ok := spanFactories[name]
	return ok || disabled(name)
}

// IsMetrics reports whether name selects a metrics exporter or None.
func IsMetrics(name string) bool {
	_, ok := readerFactories[name]
	return ok || disabled(name)
}

// Tracing lists the tracing exporter names, sorted.
func Tracing() []string { return sortedKeys(spanFactories) }

// Metrics lists the metrics exporter names, sorted.
func Metrics() []string { return sortedKeys(readerFactories) }

// NewTracingExporter creates the named span exporter. None and "" yield nil.
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	if disabled(name) {
		return nil, nil
	}
	f, ok := spanFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q for tracing", ErrUnknownExporter, name)
	}
	exp, err := f(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporters: %s tracing: %w", name, err)
	}
	return exp, nil
}

// NewMetricsReader creates the named metrics reader. None and "" yield nil.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	if disabled(name) {
		return nil, nil
	}
	f, ok := readerFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q for metrics", ErrUnknownExporter, name)
	}
	r, err := f(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporters: %s metrics: %w", name, err)
	}
	return r, nil
}

func disabled(name string) bool { return name == "" || name == None }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
