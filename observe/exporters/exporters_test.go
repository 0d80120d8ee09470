package exporters

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func clearEndpoints(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT",
		"OTEL_EXPORTER_JAEGER_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestNewTracingExporter(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantNil bool
		wantErr error
	}{
		{name: "stdout"},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "otlp", wantErr: ErrEndpointNotConfigured},
		{name: "otlp", env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://localhost:4317"}},
		{name: "otlp", env: map[string]string{"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "http://localhost:4317"}},
		{name: "jaeger", wantErr: ErrEndpointNotConfigured},
		{name: "jaeger", env: map[string]string{"OTEL_EXPORTER_JAEGER_ENDPOINT": "localhost:4317"}},
		{name: "zipkin", wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEndpoints(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			exp, err := NewTracingExporter(context.Background(), tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if (exp == nil) != tt.wantNil {
				t.Fatalf("exporter = %v, want nil %v", exp, tt.wantNil)
			}
			if exp != nil {
				_ = exp.Shutdown(context.Background())
			}
		})
	}
}

func TestNewMetricsReader(t *testing.T) {
	clearEndpoints(t)
	tests := []struct {
		name    string
		wantNil bool
		wantErr error
	}{
		{name: "stdout"},
		{name: "prometheus"},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "otlp", wantErr: ErrEndpointNotConfigured},
		{name: "statsd", wantErr: ErrUnknownExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewMetricsReader(context.Background(), tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if (reader == nil) != tt.wantNil {
				t.Fatalf("reader = %v, want nil %v", reader, tt.wantNil)
			}
		})
	}
}

func TestNames(t *testing.T) {
	if got := Tracing(); !slices.Equal(got, []string{"jaeger", "otlp", "stdout"}) {
		t.Errorf("Tracing() = %v", got)
	}
	if got := Metrics(); !slices.Equal(got, []string{"otlp", "prometheus", "stdout"}) {
		t.Errorf("Metrics() = %v", got)
	}
	if !IsTracing(None) || !IsMetrics("") || IsTracing("prometheus") || IsMetrics("jaeger") {
		t.Error("Is* disagrees with the factory tables")
	}
}
