package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/rpccache/observe/exporters"
)

// Bounds of TracingConfig.SamplePct.
const (
	MinSamplePct = 0.0
	MaxSamplePct = 1.0
)

// Config selects which telemetry signals NewObserver turns on.
// A disabled signal is served by a no-op implementation.
type Config struct {
	ServiceName string
	Version     string
	Tracing     TracingConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig
}

// TracingConfig names the span exporter (see exporters.Tracing) and the
// fraction of root spans sampled.
type TracingConfig struct {
	Enabled   bool
	Exporter  string
	SamplePct float64
}

// MetricsConfig names the metrics reader (see exporters.Metrics).
type MetricsConfig struct {
	Enabled  bool
	Exporter string
}

// LoggingConfig sets the minimum level logged: debug, info, warn or error.
type LoggingConfig struct {
	Enabled bool
	Level   string
}

// Validate checks only the signals that are enabled.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if t := c.Tracing; t.Enabled {
		if !exporters.IsTracing(t.Exporter) {
			return fmt.Errorf("%w %q, want one of %v", ErrInvalidTracingExporter, t.Exporter, exporters.Tracing())
		}
		if t.SamplePct < MinSamplePct || t.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w: %g", ErrInvalidSamplePct, t.SamplePct)
		}
	}
	if m := c.Metrics; m.Enabled && !exporters.IsMetrics(m.Exporter) {
		return fmt.Errorf("%w %q, want one of %v", ErrInvalidMetricsExporter, m.Exporter, exporters.Metrics())
	}
	if l := c.Logging; l.Enabled && !knownLevel(l.Level) {
		return fmt.Errorf("%w %q", ErrInvalidLogLevel, l.Level)
	}
	return nil
}

// Observer hands out the telemetry primitives for one process.
// Shutdown flushes the providers it started and may be called more than once.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger
	Shutdown(ctx context.Context) error
}

type observer struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger Logger

	// flush holds the Shutdown funcs of started providers, in start order.
	flush    []func(context.Context) error
	once     sync.Once
	flushErr error
}

// NewObserver starts the providers cfg enables and registers them as the
// OpenTelemetry globals.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &observer{
		tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:  metricnoop.NewMeterProvider().Meter(cfg.ServiceName),
		logger: NopLogger(),
	}
	if cfg.Logging.Enabled {
		o.logger = NewLogger(cfg.Logging.Level)
	}
	if !cfg.Tracing.Enabled && !cfg.Metrics.Enabled {
		return o, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	if cfg.Tracing.Enabled {
		exp, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter)
		if err != nil {
			return nil, err
		}
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.Tracing.SamplePct))),
		}
		if exp != nil {
			opts = append(opts, sdktrace.WithBatcher(exp))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		o.tracer = tp.Tracer(cfg.ServiceName)
		o.flush = append(o.flush, tp.Shutdown)
	}

	if cfg.Metrics.Enabled {
		reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter)
		if err != nil {
			_ = o.Shutdown(ctx)
			return nil, err
		}
		opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		if reader != nil {
			opts = append(opts, sdkmetric.WithReader(reader))
		}
		mp := sdkmetric.NewMeterProvider(opts...)
		otel.SetMeterProvider(mp)
		o.meter = mp.Meter(cfg.ServiceName)
		o.flush = append(o.flush, mp.Shutdown)
	}

	return o, nil
}

func sampler(pct float64) sdktrace.Sampler {
	switch {
	case pct >= MaxSamplePct:
		return sdktrace.AlwaysSample()
	case pct <= MinSamplePct:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(pct)
	}
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }
func (o *observer) Meter() metric.Meter  { return o.meter }
func (o *observer) Logger() Logger       { return o.logger }

func (o *observer) Shutdown(ctx context.Context) error {
	o.once.Do(func() {
		var errs []error
		for i := len(o.flush) - 1; i >= 0; i-- {
			if err := o.flush[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		o.flushErr = errors.Join(errs...)
	})
	return o.flushErr
}
