package observe

import (
	"context"
	"time"
)

// ProcedureFunc is the signature Middleware wraps.
type ProcedureFunc func(ctx context.Context, input any) (any, error)

// Middleware wraps procedure execution with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a function safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
//   - Ownership: input and output values pass through unmodified.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NoopTracer()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// Wrap instruments fn as the procedure described by meta.
func (m *Middleware) Wrap(meta ProcedureMeta, fn ProcedureFunc) ProcedureFunc {
	logger := m.logger.WithProcedure(meta)

	return func(ctx context.Context, input any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		result, err := fn(ctx, input)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, meta, duration, err)

		fields := []Field{{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000}}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "procedure failed", fields...)
		} else {
			logger.Debug(ctx, "procedure completed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver builds a Middleware from an Observer's primitives.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// CacheMetricsFromObserver builds CacheMetrics on an Observer's meter.
func CacheMetricsFromObserver(obs Observer) (CacheMetrics, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	return NewCacheMetrics(obs.Meter())
}
