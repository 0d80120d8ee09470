package observe

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ProcedureKind distinguishes reads from writes.
type ProcedureKind string

const (
	KindQuery    ProcedureKind = "query"
	KindMutation ProcedureKind = "mutation"
)

// ProcedureMeta describes a procedure for telemetry.
type ProcedureMeta struct {
	// Route is the dotted procedure path, e.g. "post.list".
	Route string
	Kind  ProcedureKind
	// Cached marks queries served through the cache.
	Cached bool
}

// Namespace returns the route up to its last dot, or "" for a bare route.
func (m ProcedureMeta) Namespace() string {
	if i := strings.LastIndexByte(m.Route, '.'); i > 0 {
		return m.Route[:i]
	}
	return ""
}

// SpanName returns rpc.<kind>.<route>, or rpc.<route> when the kind is unset.
func (m ProcedureMeta) SpanName() string {
	if m.Kind != "" {
		return "rpc." + string(m.Kind) + "." + m.Route
	}
	return "rpc." + m.Route
}

// Validate reports a missing route.
func (m ProcedureMeta) Validate() error {
	if m.Route == "" {
		return ErrMissingRoute
	}
	return nil
}

func (m ProcedureMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.route", m.Route),
	}
	if m.Kind != "" {
		attrs = append(attrs, attribute.String("rpc.kind", string(m.Kind)))
	}
	if ns := m.Namespace(); ns != "" {
		attrs = append(attrs, attribute.String("rpc.namespace", ns))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with procedure span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta ProcedureMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta ProcedureMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(),
		attribute.Bool("rpc.cached", meta.Cached),
		attribute.Bool("rpc.error", false),
	)
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("rpc.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NoopTracer returns a tracer whose spans record nothing.
func NoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta ProcedureMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
