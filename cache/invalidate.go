package cache

import (
	"context"
	"fmt"
)

// InvalidateOptions selects the entry to invalidate. The scope flags and
// GetCacheKey must match the configuration the entry was cached under.
type InvalidateOptions struct {
	Backend      BackendKind
	Connection   Connection
	UserSpecific bool
	GlobalCache  bool
	GetCacheKey  KeyFunc

	// CallerID is used for user scoped entries. Empty means anonymous.
	CallerID string
}

// Config returns the configuration the options describe.
func (o InvalidateOptions) Config() Config {
	return Config{
		Backend:      o.Backend,
		Connection:   o.Connection,
		UserSpecific: o.UserSpecific,
		GlobalCache:  o.GlobalCache,
		GetCacheKey:  o.GetCacheKey,
	}.WithDefaults()
}

// Invalidate deletes the entry for route and input. It is meant for mutation
// handlers that know which cached reads they change. Unlike Intercept it has
// nothing to fall back to, so resolution and backend errors are returned.
func Invalidate(ctx context.Context, resolver Resolver, route string, input any, opts InvalidateOptions) error {
	cfg := opts.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if resolver == nil {
		return ErrNilResolver
	}

	key, err := DeriveKey(Call{Route: route, Input: input, CallerID: opts.CallerID}, cfg)
	if err != nil {
		return fmt.Errorf("cache: derive key: %w", err)
	}
	backend, err := resolver.Resolve(cfg.Backend, cfg.Connection)
	if err != nil {
		return fmt.Errorf("cache: resolve %s backend: %w", cfg.Backend, err)
	}
	if backend == nil {
		return ErrNilBackend
	}

	if err := backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: invalidate %q: %w", key, err)
	}
	return nil
}
