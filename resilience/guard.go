package resilience

import (
	"context"
	"fmt"
	"time"
)

// Guard composes a limiter, a breaker and a timeout around backend operations.
// A zero Guard, or one without options, runs operations directly.
type Guard struct {
	name    string
	limiter *Limiter
	breaker *Breaker
	timeout *Timeout
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// NewGuard creates a Guard. name prefixes the errors it produces.
func NewGuard(name string, opts ...GuardOption) *Guard {
	g := &Guard{name: name}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithLimiter caps in-flight operations.
func WithLimiter(l *Limiter) GuardOption {
	return func(g *Guard) { g.limiter = l }
}

// WithBreaker adds a circuit breaker.
func WithBreaker(b *Breaker) GuardOption {
	return func(g *Guard) { g.breaker = b }
}

// WithTimeout bounds every operation by d.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) { g.timeout = NewTimeout(d) }
}

// Name returns the guard's name.
func (g *Guard) Name() string { return g.name }

// Breaker returns the guard's breaker, or nil.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Do runs op through the limiter, then the breaker, then the timeout.
// Rejections by the limiter or breaker are prefixed with the guard's name.
func (g *Guard) Do(ctx context.Context, op func(context.Context) error) error {
	if g == nil {
		return op(ctx)
	}

	run := op
	if g.timeout != nil {
		inner := run
		run = func(ctx context.Context) error { return g.timeout.Do(ctx, inner) }
	}
	if g.breaker != nil {
		inner := run
		run = func(ctx context.Context) error {
			err := g.breaker.Do(ctx, inner)
			if err == ErrCircuitOpen {
				return fmt.Errorf("%s: %w", g.name, err)
			}
			return err
		}
	}
	if g.limiter != nil {
		inner := run
		run = func(ctx context.Context) error {
			err := g.limiter.Do(ctx, inner)
			if err == ErrSaturated {
				return fmt.Errorf("%s: %w", g.name, err)
			}
			return err
		}
	}
	return run(ctx)
}

// Call runs a value-returning operation through g.
func Call[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
