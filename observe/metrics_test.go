package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere adds the data points of an int64 sum whose attributes include kv.
func sumWhere(t *testing.T, m *metricdata.Metrics, kv attribute.KeyValue) int64 {
	t.Helper()
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data = %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v.Emit() == kv.Value.Emit() {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_RecordExecution(t *testing.T) {
	mp, reader := newTestMeterProvider()
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	meta := ProcedureMeta{Route: "post.list", Kind: KindQuery}
	ctx := context.Background()
	m.RecordExecution(ctx, meta, 5*time.Millisecond, nil)
	m.RecordExecution(ctx, meta, 7*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	route := attribute.String("rpc.route", "post.list")
	if got := sumWhere(t, findMetric(rm, "rpc.exec.total"), route); got != 2 {
		t.Errorf("rpc.exec.total = %d, want 2", got)
	}
	if got := sumWhere(t, findMetric(rm, "rpc.exec.errors"), route); got != 1 {
		t.Errorf("rpc.exec.errors = %d, want 1", got)
	}

	hist := findMetric(rm, "rpc.exec.duration_ms")
	if hist == nil {
		t.Fatal("rpc.exec.duration_ms not recorded")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(data.DataPoints) != 1 || data.DataPoints[0].Count != 2 {
		t.Errorf("duration histogram = %+v, want one point with count 2", hist.Data)
	}
}

func TestCacheMetrics(t *testing.T) {
	mp, reader := newTestMeterProvider()
	m, err := NewCacheMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewCacheMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordLookup(ctx, "r", "hit")
	m.RecordLookup(ctx, "r", "hit")
	m.RecordLookup(ctx, "r", "miss")
	m.RecordWrite(ctx, "r", nil)
	m.RecordWrite(ctx, "r", errors.New("down"))

	rm := collect(t, reader)
	lookups := findMetric(rm, "cache.lookups")
	if got := sumWhere(t, lookups, attribute.String("cache.outcome", "hit")); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
	if got := sumWhere(t, lookups, attribute.String("cache.outcome", "miss")); got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}

	writes := findMetric(rm, "cache.writes")
	if got := sumWhere(t, writes, attribute.String("cache.result", "ok")); got != 1 {
		t.Errorf("ok writes = %d, want 1", got)
	}
	if got := sumWhere(t, writes, attribute.String("cache.result", "error")); got != 1 {
		t.Errorf("failed writes = %d, want 1", got)
	}
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	NoopMetrics().RecordExecution(ctx, ProcedureMeta{Route: "r"}, time.Second, nil)
	NoopCacheMetrics().RecordLookup(ctx, "r", "hit")
	NoopCacheMetrics().RecordWrite(ctx, "r", errors.New("x"))
}
