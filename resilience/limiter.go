package resilience

import (
	"context"
	"sync/atomic"
	"time"
)

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// MaxInFlight is the number of concurrent operations allowed.
	// Default: 64
	MaxInFlight int

	// MaxWait is how long to wait for a free slot. Zero fails immediately.
	MaxWait time.Duration
}

// Limiter caps concurrent operations with a semaphore.
type Limiter struct {
	config   LimiterConfig
	slots    chan struct{}
	rejected atomic.Int64
}

// NewLimiter creates a Limiter.
func NewLimiter(config LimiterConfig) *Limiter {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 64
	}
	return &Limiter{config: config, slots: make(chan struct{}, config.MaxInFlight)}
}

// Do runs op once a slot is free.
func (l *Limiter) Do(ctx context.Context, op func(context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-l.slots }()
	return op(ctx)
}

// InFlight returns the number of running operations.
func (l *Limiter) InFlight() int { return len(l.slots) }

// Rejected returns the number of operations turned away.
func (l *Limiter) Rejected() int64 { return l.rejected.Load() }

func (l *Limiter) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}

	if l.config.MaxWait <= 0 {
		l.rejected.Add(1)
		return ErrSaturated
	}

	timer := time.NewTimer(l.config.MaxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-timer.C:
		l.rejected.Add(1)
		return ErrSaturated
	case <-ctx.Done():
		return ctx.Err()
	}
}
