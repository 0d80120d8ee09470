package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/rpccache/auth"
	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/health"
	"github.com/jonwraymond/rpccache/observe"
)

// Handler implements a procedure. input is the raw JSON input, nil when the
// call has none.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Config configures a Server.
type Config struct {
	// Prefix is the URL path procedures are served under. Default: "/rpc"
	Prefix string

	// Resolver resolves cache backends for cached queries. Required only
	// when a query is registered with a cache.Config.
	Resolver cache.Resolver

	// Authenticator identifies callers. Nil treats every call as anonymous.
	Authenticator auth.Authenticator

	// Observe instruments procedure executions. Nil disables it.
	Observe *observe.Middleware

	Logger       observe.Logger
	CacheMetrics observe.CacheMetrics
	Tracer       trace.Tracer

	// Health, when set, is served at /healthz, /readyz and /health.
	Health *health.Aggregator

	// BodyLimit caps request bodies, in echo's size syntax. Default: "1M"
	BodyLimit string

	// AllowOrigins enables CORS for the listed origins.
	AllowOrigins []string

	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

// Server dispatches calls to registered procedures.
type Server struct {
	cfg Config

	mu         sync.RWMutex
	procedures map[string]*procedure

	echoOnce sync.Once
	echo     *echo.Echo
}

type procedure struct {
	meta        observe.ProcedureMeta
	run         observe.ProcedureFunc
	cache       *cache.Middleware
	invalidates []Invalidation
}

// Invalidation names a cached query made stale by a mutation.
type Invalidation struct {
	Route string

	// Input maps the mutation's input to the query input whose entry is
	// stale. Nil uses the mutation's input unchanged.
	Input func(mutationInput json.RawMessage) (json.RawMessage, error)
}

// Invalidate names a query whose entry for the same input a mutation clears.
func Invalidate(route string) Invalidation {
	return Invalidation{Route: route}
}

// InvalidateWith names a query and maps the mutation input to its input.
func InvalidateWith(route string, input func(json.RawMessage) (json.RawMessage, error)) Invalidation {
	return Invalidation{Route: route, Input: input}
}

// NewServer creates a server with no procedures.
func NewServer(cfg Config) *Server {
	if cfg.Prefix == "" {
		cfg.Prefix = "/rpc"
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Observe == nil {
		cfg.Observe = observe.NewMiddleware(nil, nil, nil)
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "1M"
	}
	return &Server{cfg: cfg, procedures: make(map[string]*procedure)}
}

// Query registers a read procedure. A non-nil cc caches its results; an
// invalid configuration or unresolvable backend fails registration.
func (s *Server) Query(route string, h Handler, cc *cache.Config) error {
	meta := observe.ProcedureMeta{Route: route, Kind: observe.KindQuery, Cached: cc != nil}
	p := &procedure{meta: meta}

	if cc != nil {
		opts := []cache.Option{cache.WithLogger(s.cfg.Logger)}
		if s.cfg.CacheMetrics != nil {
			opts = append(opts, cache.WithMetrics(s.cfg.CacheMetrics))
		}
		if s.cfg.Tracer != nil {
			opts = append(opts, cache.WithTracer(s.cfg.Tracer))
		}
		mw, err := cache.New(*cc, s.cfg.Resolver, opts...)
		if err != nil {
			return fmt.Errorf("rpc: query %s: %w", route, err)
		}
		p.cache = mw
	}
	return s.register(p, h)
}

// Mutation registers a write procedure. Every invalidation must name a
// cached query registered earlier.
func (s *Server) Mutation(route string, h Handler, invalidates ...Invalidation) error {
	s.mu.RLock()
	for _, inv := range invalidates {
		q, ok := s.procedures[inv.Route]
		if !ok || q.meta.Kind != observe.KindQuery {
			s.mu.RUnlock()
			return fmt.Errorf("rpc: mutation %s invalidates %q: %w", route, inv.Route, ErrUnknownRoute)
		}
		if q.cache == nil {
			s.mu.RUnlock()
			return fmt.Errorf("rpc: mutation %s invalidates %q: %w", route, inv.Route, ErrNotCached)
		}
	}
	s.mu.RUnlock()

	p := &procedure{
		meta:        observe.ProcedureMeta{Route: route, Kind: observe.KindMutation},
		invalidates: invalidates,
	}
	return s.register(p, h)
}

func (s *Server) register(p *procedure, h Handler) error {
	route := p.meta.Route
	if route == "" || strings.ContainsAny(route, "/ ") {
		return fmt.Errorf("%w %q", ErrInvalidRoute, route)
	}
	if h == nil {
		return fmt.Errorf("rpc: %s: nil handler", route)
	}

	p.run = s.cfg.Observe.Wrap(p.meta, func(ctx context.Context, input any) (any, error) {
		raw, _ := input.(json.RawMessage)
		return h(ctx, raw)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.procedures[route]; exists {
		return fmt.Errorf("%w %q", ErrDuplicateRoute, route)
	}
	s.procedures[route] = p
	return nil
}

// Routes returns the registered procedures keyed by route.
func (s *Server) Routes() map[string]observe.ProcedureKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]observe.ProcedureKind, len(s.procedures))
	for route, p := range s.procedures {
		out[route] = p.meta.Kind
	}
	return out
}

// Call invokes route in process. The caller identity is read from ctx (see
// auth.WithCaller).
func (s *Server) Call(ctx context.Context, route string, input json.RawMessage) (any, error) {
	p, err := s.lookup(route)
	if err != nil {
		return nil, err
	}
	return s.invoke(ctx, p, input)
}

func (s *Server) lookup(route string) (*procedure, error) {
	s.mu.RLock()
	p, ok := s.procedures[route]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRoute, route)
	}
	return p, nil
}

func (s *Server) invoke(ctx context.Context, p *procedure, input json.RawMessage) (any, error) {
	if len(input) == 0 {
		input = nil
	}
	exec := func(ctx context.Context) (any, error) { return p.run(ctx, input) }

	if p.cache != nil {
		return p.cache.Intercept(ctx, cache.CallFromContext(ctx, p.meta.Route, callInput(input)), exec)
	}

	result, err := exec(ctx)
	if err != nil || p.meta.Kind != observe.KindMutation {
		return result, err
	}
	s.invalidate(ctx, p, input)
	return result, nil
}

// invalidate clears the entries a successful mutation made stale. Failures
// are logged; the mutation has already been applied.
func (s *Server) invalidate(ctx context.Context, p *procedure, input json.RawMessage) {
	for _, inv := range p.invalidates {
		q, err := s.lookup(inv.Route)
		if err != nil || q.cache == nil {
			continue
		}

		queryInput := input
		if inv.Input != nil {
			if queryInput, err = inv.Input(input); err != nil {
				s.cfg.Logger.Error(ctx, "cache invalidation input failed",
					observe.Field{Key: "mutation", Value: p.meta.Route},
					observe.Field{Key: "query", Value: inv.Route},
					observe.Field{Key: "error", Value: err.Error()},
				)
				continue
			}
		}

		call := cache.CallFromContext(ctx, inv.Route, callInput(queryInput))
		if err := q.cache.Invalidate(ctx, call); err != nil {
			s.cfg.Logger.Error(ctx, "cache invalidation failed",
				observe.Field{Key: "mutation", Value: p.meta.Route},
				observe.Field{Key: "query", Value: inv.Route},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}
	}
}

// callInput keeps absent input nil rather than a typed empty RawMessage.
func callInput(input json.RawMessage) any {
	if len(input) == 0 {
		return nil
	}
	return input
}
