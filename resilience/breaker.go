package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the state of a Breaker.
type State int

const (
	// StateClosed passes every operation through.
	StateClosed State = iota
	// StateOpen rejects every operation until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probes through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	// Default: 5
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30 seconds
	Cooldown time.Duration

	// Probes is the number of operations allowed while half-open.
	// Default: 1
	Probes int

	// OnStateChange is called with the breaker's lock held.
	OnStateChange func(from, to State)

	// IsFailure decides whether err counts against the backend.
	// Default: any error except caller cancellation.
	IsFailure func(err error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = countsAsFailure
	}
	return c
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	config BreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	rejected int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{config: config.withDefaults(), now: time.Now}
}

// Do runs op unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probes = 0
	b.transition(StateClosed)
}

// Snapshot reports breaker statistics.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:    b.stateLocked(),
		Failures: b.failures,
		OpenedAt: b.openedAt,
		Rejected: b.rejected,
	}
}

// BreakerSnapshot is a point-in-time view of a Breaker.
type BreakerSnapshot struct {
	State    State
	Failures int
	OpenedAt time.Time
	Rejected int64
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateOpen:
		b.rejected++
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.config.Probes {
			b.rejected++
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.config.IsFailure(err)
	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.Threshold {
			b.open()
		}
	case StateHalfOpen:
		switch {
		case failed:
			b.open()
		case err != nil:
			// An abandoned probe says nothing about the backend; free its slot.
			if b.probes > 0 {
				b.probes--
			}
		default:
			b.failures = 0
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		b.probes = 0
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}
