package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records procedure executions.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordExecution(ctx context.Context, meta ProcedureMeta, duration time.Duration, err error)
}

// CacheMetrics records cache lookups by outcome and cache writes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type CacheMetrics interface {
	// RecordLookup counts a read; outcome is hit, miss or unavailable.
	RecordLookup(ctx context.Context, route, outcome string)

	// RecordWrite counts a write, failed when err is non-nil.
	RecordWrite(ctx context.Context, route string, err error)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates procedure metrics on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"rpc.exec.total",
		metric.WithDescription("Total number of procedure executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"rpc.exec.errors",
		metric.WithDescription("Total number of procedure execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"rpc.exec.duration_ms",
		metric.WithDescription("Procedure execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta ProcedureMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

type cacheMetricsImpl struct {
	lookups metric.Int64Counter
	writes  metric.Int64Counter
}

// NewCacheMetrics creates cache metrics on meter.
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	lookups, err := meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Cache reads by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	writes, err := meter.Int64Counter(
		"cache.writes",
		metric.WithDescription("Cache writes by result"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	return &cacheMetricsImpl{lookups: lookups, writes: writes}, nil
}

func (m *cacheMetricsImpl) RecordLookup(ctx context.Context, route, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.route", route),
		attribute.String("cache.outcome", outcome),
	))
}

func (m *cacheMetricsImpl) RecordWrite(ctx context.Context, route string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.route", route),
		attribute.String("cache.result", result),
	))
}

// NoopMetrics returns procedure metrics that record nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

// NoopCacheMetrics returns cache metrics that record nothing.
func NoopCacheMetrics() CacheMetrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RecordExecution(context.Context, ProcedureMeta, time.Duration, error) {}
func (noopMetrics) RecordLookup(context.Context, string, string)                         {}
func (noopMetrics) RecordWrite(context.Context, string, error)                           {}
