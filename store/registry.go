package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/health"
	"github.com/jonwraymond/rpccache/observe"
	"github.com/jonwraymond/rpccache/resilience"
	"github.com/jonwraymond/rpccache/secret"
)

// Registry resolves backend selectors to shared backends. It implements
// cache.Resolver.
type Registry struct {
	env     Env
	secrets *secret.Resolver
	logger  observe.Logger
	memory  *cache.MemoryStore

	mu        sync.Mutex
	endpoints map[endpointKey]*endpoint
	order     []endpointKey
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSecrets resolves secret references in connection URLs and tokens.
func WithSecrets(r *secret.Resolver) RegistryOption {
	return func(reg *Registry) { reg.secrets = r }
}

// WithLogger logs connection and breaker state changes.
func WithLogger(l observe.Logger) RegistryOption {
	return func(reg *Registry) {
		if l != nil {
			reg.logger = l
		}
	}
}

// WithMemoryStore sets the store returned for cache.BackendMemory.
func WithMemoryStore(m *cache.MemoryStore) RegistryOption {
	return func(reg *Registry) {
		if m != nil {
			reg.memory = m
		}
	}
}

// NewRegistry creates a registry with no open connections.
func NewRegistry(env Env, opts ...RegistryOption) *Registry {
	r := &Registry{
		env:       env,
		logger:    observe.NopLogger(),
		memory:    cache.NewMemoryStore(),
		endpoints: make(map[endpointKey]*endpoint),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type endpointKey struct {
	kind  cache.BackendKind
	url   string
	token string
}

// endpoint is one remote backend: its pool, guard and store.
type endpoint struct {
	name    string
	backend cache.Backend
	guard   *resilience.Guard
	pool    interface {
		Ping(ctx context.Context) error
		State() PoolState
		Dials() int64
		Close() error
	}
}

func (e *endpoint) Ping(ctx context.Context) error { return e.pool.Ping(ctx) }

// Describe reports pool and breaker state. An open breaker degrades health.
func (e *endpoint) Describe() (map[string]any, bool) {
	details := map[string]any{
		"pool":  e.pool.State().String(),
		"dials": e.pool.Dials(),
	}
	degraded := false
	if b := e.guard.Breaker(); b != nil {
		snap := b.Snapshot()
		details["breaker"] = snap.State.String()
		details["rejected"] = snap.Rejected
		degraded = snap.State != resilience.StateClosed
	}
	return details, degraded
}

// Resolve returns the backend for kind. Remote kinds use conn when set and
// the environment otherwise. Backends are shared per endpoint.
func (r *Registry) Resolve(kind cache.BackendKind, conn cache.Connection) (cache.Backend, error) {
	switch kind {
	case cache.BackendMemory:
		if !conn.IsZero() {
			return nil, fmt.Errorf("%w: memory backend takes no connection", cache.ErrInvalidConfig)
		}
		return r.memory, nil
	case cache.BackendRedis, cache.BackendKV:
	default:
		return nil, fmt.Errorf("%w %q", cache.ErrUnknownKind, kind)
	}

	url, token := r.defaults(kind)
	if conn.URL != "" {
		url = conn.URL
	}
	if conn.Token != "" {
		token = conn.Token
	}

	ctx := context.Background()
	var err error
	if url, err = r.secrets.ResolveValue(ctx, url); err != nil {
		return nil, fmt.Errorf("store: resolve %s url: %w", kind, err)
	}
	if token, err = r.secrets.ResolveValue(ctx, token); err != nil {
		return nil, fmt.Errorf("store: resolve %s token: %w", kind, err)
	}
	if url == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoEndpoint, kind)
	}

	key := endpointKey{kind: kind, url: url, token: token}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[key]; ok {
		return ep.backend, nil
	}
	ep, err := r.newEndpoint(key)
	if err != nil {
		return nil, err
	}
	r.endpoints[key] = ep
	r.order = append(r.order, key)
	return ep.backend, nil
}

func (r *Registry) defaults(kind cache.BackendKind) (url, token string) {
	if kind == cache.BackendKV {
		return r.env.KVURL, r.env.KVToken
	}
	return r.env.RedisURL, ""
}

func (r *Registry) newEndpoint(key endpointKey) (*endpoint, error) {
	opts, err := redisOptions(key.url, key.token)
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("%s@%s/%d", key.kind, opts.Addr, opts.DB)
	name := base
	for i := 2; r.named(name); i++ {
		name = fmt.Sprintf("%s#%d", base, i)
	}

	guard := r.newGuard(name)
	switch key.kind {
	case cache.BackendKV:
		pool, err := NewKVPool(name, key.url, key.token, PoolConfig[KVClient]{
			DialTimeout:   r.env.DialTimeout,
			OnStateChange: r.logPoolState(name),
		})
		if err != nil {
			return nil, err
		}
		return &endpoint{name: name, backend: NewNativeStore(pool, guard), guard: guard, pool: pool}, nil
	default:
		pool, err := NewRedisPool(name, key.url, key.token, PoolConfig[*redis.Client]{
			DialTimeout:   r.env.DialTimeout,
			OnStateChange: r.logPoolState(name),
		})
		if err != nil {
			return nil, err
		}
		return &endpoint{name: name, backend: NewStringStore(pool, guard), guard: guard, pool: pool}, nil
	}
}

func (r *Registry) named(name string) bool {
	for _, ep := range r.endpoints {
		if ep.name == name {
			return true
		}
	}
	return false
}

func (r *Registry) newGuard(name string) *resilience.Guard {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: r.env.BreakerThreshold,
		Cooldown:  r.env.BreakerCooldown,
		OnStateChange: func(from, to resilience.State) {
			r.logger.Warn(context.Background(), "backend circuit state changed",
				observe.Field{Key: "backend", Value: name},
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()},
			)
		},
	})
	opts := []resilience.GuardOption{resilience.WithBreaker(breaker)}
	if r.env.OpTimeout > 0 {
		opts = append(opts, resilience.WithTimeout(r.env.OpTimeout))
	}
	if r.env.MaxInFlight > 0 {
		opts = append(opts, resilience.WithLimiter(resilience.NewLimiter(resilience.LimiterConfig{
			MaxInFlight: r.env.MaxInFlight,
		})))
	}
	return resilience.NewGuard(name, opts...)
}

func (r *Registry) logPoolState(name string) func(from, to PoolState, err error) {
	return func(from, to PoolState, err error) {
		fields := []observe.Field{
			{Key: "backend", Value: name},
			{Key: "from", Value: from.String()},
			{Key: "to", Value: to.String()},
		}
		if err != nil {
			r.logger.Error(context.Background(), "backend dial failed", append(fields, observe.Field{Key: "error", Value: err.Error()})...)
			return
		}
		r.logger.Info(context.Background(), "backend connection state changed", fields...)
	}
}

// Checkers returns a health checker per endpoint resolved so far, in
// resolution order.
func (r *Registry) Checkers(cfg health.PingConfig) []health.Checker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]health.Checker, 0, len(r.order))
	for _, k := range r.order {
		ep := r.endpoints[k]
		out = append(out, health.NewPingChecker(ep.name, ep, cfg))
	}
	return out
}

// Endpoints returns the names of endpoints resolved so far.
func (r *Registry) Endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.order))
	for _, k := range r.order {
		names = append(names, r.endpoints[k].name)
	}
	slices.Sort(names)
	return names
}

// Memory returns the shared in-process store.
func (r *Registry) Memory() *cache.MemoryStore { return r.memory }

// Close closes every pool. Backends resolved earlier redial on next use.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, k := range r.order {
		if err := r.endpoints[k].pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func hasReference(s string) bool {
	return strings.Contains(s, "$") || strings.Contains(s, "secretref:")
}

var (
	_ cache.Resolver   = (*Registry)(nil)
	_ health.Pinger    = (*endpoint)(nil)
	_ health.Describer = (*endpoint)(nil)
)
