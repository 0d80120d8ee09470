package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/rpccache/observe"
)

// Procedure is the deferred underlying call.
type Procedure func(ctx context.Context) (any, error)

// Outcome is implemented by results that can report failure without an error.
// A result whose OK returns false is returned to the caller but never cached.
type Outcome interface {
	OK() bool
}

// LookupState classifies a cache read.
type LookupState int

const (
	// LookupMiss means the backend answered and holds no entry.
	LookupMiss LookupState = iota
	// LookupHit means the backend returned an entry.
	LookupHit
	// LookupUnavailable means the backend could not be read.
	LookupUnavailable
)

func (s LookupState) String() string {
	switch s {
	case LookupHit:
		return "hit"
	case LookupMiss:
		return "miss"
	case LookupUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Lookup is the result of a cache read.
type Lookup struct {
	State LookupState
	Value any
	Err   error
}

// Middleware serves procedure results from a backend.
//
// Contract:
//   - Concurrency: safe for concurrent use; calls are not deduplicated.
//   - Errors: backend failures never fail a call. Procedure errors are returned
//     unchanged and never cached.
//   - Ownership: the caller receives the procedure's own result; only the
//     backend sees the sanitized copy.
type Middleware struct {
	cfg     Config
	backend Backend
	keyer   Keyer
	logger  observe.Logger
	metrics observe.CacheMetrics
	tracer  trace.Tracer
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithLogger sets the logger. The default writes JSON to stderr.
func WithLogger(l observe.Logger) Option {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records lookup and write outcomes.
func WithMetrics(mt observe.CacheMetrics) Option {
	return func(m *Middleware) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithTracer wraps every intercepted call in a span.
func WithTracer(t trace.Tracer) Option {
	return func(m *Middleware) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithKeyer replaces the configuration's key scheme.
func WithKeyer(k Keyer) Option {
	return func(m *Middleware) {
		if k != nil {
			m.keyer = k
		}
	}
}

// New validates cfg and resolves its backend. Both happen once, here; a
// middleware that was built never fails on configuration.
func New(cfg Config, resolver Resolver, opts ...Option) (*Middleware, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, ErrNilResolver
	}

	backend, err := resolver.Resolve(cfg.Backend, cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("cache: resolve %s backend: %w", cfg.Backend, err)
	}
	if backend == nil {
		return nil, ErrNilBackend
	}

	m := &Middleware{
		cfg:     cfg,
		backend: backend,
		keyer:   NewDefaultKeyer(cfg),
		logger:  observe.NewLogger("info"),
		metrics: observe.NoopCacheMetrics(),
		tracer:  tracenoop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the validated configuration.
func (m *Middleware) Config() Config {
	return m.cfg
}

// Key derives the key Intercept would use for call. Keys from the configured
// scheme, including a GetCacheKey result, are used verbatim; a Keyer set with
// WithKeyer must not return a blank key.
func (m *Middleware) Key(call Call) (string, error) {
	key, err := m.keyer.Key(call)
	if err != nil {
		return "", err
	}
	if _, ok := m.keyer.(*DefaultKeyer); !ok {
		if err := ValidateKey(key); err != nil {
			return "", err
		}
	}
	return key, nil
}

// Intercept returns the cached result for call, or runs next and caches what
// it returns. Key, read and write failures are logged and the call proceeds
// uncached.
func (m *Middleware) Intercept(ctx context.Context, call Call, next Procedure) (any, error) {
	ctx, span := m.tracer.Start(ctx, "cache.intercept",
		trace.WithAttributes(
			attribute.String("cache.route", call.Route),
			attribute.String("cache.backend", string(m.cfg.Backend)),
			attribute.String("cache.scope", m.cfg.Scope()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	key, err := m.Key(call)
	if err != nil {
		m.logger.Error(ctx, "cache key derivation failed",
			observe.Field{Key: "route", Value: call.Route},
			observe.Field{Key: "error", Value: err.Error()},
		)
		m.recordLookup(ctx, span, call.Route, LookupUnavailable)
		return next(ctx)
	}

	lookup := m.Lookup(ctx, key)
	m.recordLookup(ctx, span, call.Route, lookup.State)

	switch lookup.State {
	case LookupHit:
		m.debug(ctx, "cache hit", key)
		return lookup.Value, nil
	case LookupUnavailable:
		m.logger.Error(ctx, "cache read failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "backend", Value: string(m.cfg.Backend)},
			observe.Field{Key: "error", Value: lookup.Err.Error()},
		)
		return next(ctx)
	}

	m.debug(ctx, "cache miss", key)

	result, err := next(ctx)
	if err != nil {
		return result, err
	}
	if o, ok := result.(Outcome); ok && !o.OK() {
		if m.cfg.Debug {
			m.logger.Warn(ctx, "cache skipped unsuccessful result", observe.Field{Key: "key", Value: key})
		}
		return result, nil
	}

	m.store(ctx, call.Route, key, result)
	return result, nil
}

// Lookup reads key from the backend.
func (m *Middleware) Lookup(ctx context.Context, key string) Lookup {
	value, found, err := m.backend.Get(ctx, key)
	switch {
	case err != nil:
		return Lookup{State: LookupUnavailable, Err: err}
	case !found:
		return Lookup{State: LookupMiss}
	default:
		return Lookup{State: LookupHit, Value: value}
	}
}

// Invalidate deletes the entry call would be served from.
func (m *Middleware) Invalidate(ctx context.Context, call Call) error {
	key, err := m.Key(call)
	if err != nil {
		return fmt.Errorf("cache: derive key: %w", err)
	}
	if err := m.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: invalidate %q: %w", key, err)
	}
	m.debug(ctx, "cache invalidated", key)
	return nil
}

func (m *Middleware) store(ctx context.Context, route, key string, result any) {
	if err := m.backend.Set(ctx, key, Sanitize(result), m.cfg.TTL); err != nil {
		m.metrics.RecordWrite(ctx, route, err)
		m.logger.Error(ctx, "cache write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "backend", Value: string(m.cfg.Backend)},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	m.metrics.RecordWrite(ctx, route, nil)
	if m.cfg.Debug {
		m.logger.Info(ctx, "cache set",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "ttl_ms", Value: m.cfg.TTL.Milliseconds()},
		)
	}
}

func (m *Middleware) recordLookup(ctx context.Context, span trace.Span, route string, state LookupState) {
	span.SetAttributes(attribute.String("cache.outcome", state.String()))
	m.metrics.RecordLookup(ctx, route, state.String())
}

func (m *Middleware) debug(ctx context.Context, msg, key string) {
	if m.cfg.Debug {
		m.logger.Info(ctx, msg, observe.Field{Key: "key", Value: key})
	}
}

// Wrap adapts a typed procedure to m. The caller is taken from ctx. A cached
// value that is not already an Out, as happens with the Redis store which
// decodes JSON into maps, is converted through JSON; if that fails the
// procedure runs uncached.
func Wrap[In, Out any](m *Middleware, route string, fn func(ctx context.Context, in In) (Out, error)) func(ctx context.Context, in In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		call := CallFromContext(ctx, route, in)
		v, err := m.Intercept(ctx, call, func(ctx context.Context) (any, error) {
			return fn(ctx, in)
		})
		if err != nil {
			out, _ := v.(Out)
			return out, err
		}

		out, convErr := As[Out](v)
		if convErr != nil {
			m.logger.Error(ctx, "cached value does not decode",
				observe.Field{Key: "route", Value: route},
				observe.Field{Key: "error", Value: convErr.Error()},
			)
			return fn(ctx, in)
		}
		return out, nil
	}
}

// As converts a value read from a backend into T, through JSON when it is not
// a T already.
func As[T any](v any) (T, error) {
	var out T
	if t, ok := v.(T); ok {
		return t, nil
	}
	if v == nil {
		return out, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("cache: encode cached value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("cache: decode cached value as %T: %w", out, err)
	}
	return out, nil
}
