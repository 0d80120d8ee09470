package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// PoolState is the connection state of a Pool.
type PoolState int

const (
	StateUnconnected PoolState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s PoolState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PoolConfig configures a Pool.
type PoolConfig[C any] struct {
	// Dial opens a client. It must return an error rather than a broken client.
	Dial func(ctx context.Context) (C, error)

	// Close releases a client. Optional.
	Close func(C) error

	// Ping checks a connected client. Optional.
	Ping func(ctx context.Context, c C) error

	// DialTimeout bounds each dial. Default: 5 seconds
	DialTimeout time.Duration

	// OnStateChange is called with the pool's lock held.
	OnStateChange func(from, to PoolState, err error)
}

// Pool owns the client of one backend endpoint.
//
// The first Get dials. Concurrent callers wait for the same dial, which runs
// detached from any single caller's cancellation. A failed dial leaves the
// pool Failed and the next Get dials again.
type Pool[C any] struct {
	name   string
	config PoolConfig[C]
	group  singleflight.Group
	dials  atomic.Int64

	mu      sync.Mutex
	state   PoolState
	client  C
	lastErr error
	gen     uint64
}

// NewPool creates an unconnected pool.
func NewPool[C any](name string, config PoolConfig[C]) *Pool[C] {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &Pool[C]{name: name, config: config}
}

// Name returns the endpoint name.
func (p *Pool[C]) Name() string { return p.name }

// Get returns the connected client, dialing if needed.
func (p *Pool[C]) Get(ctx context.Context) (C, error) {
	var zero C

	p.mu.Lock()
	if p.state == StateConnected {
		c := p.client
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	ch := p.group.DoChan("dial", func() (any, error) {
		return p.connect(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(C), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *Pool[C]) connect(ctx context.Context) (C, error) {
	var zero C

	p.mu.Lock()
	if p.state == StateConnected {
		c := p.client
		p.mu.Unlock()
		return c, nil
	}
	gen := p.gen
	p.transition(StateConnecting, nil)
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.config.DialTimeout)
	defer cancel()
	p.dials.Add(1)
	c, err := p.config.Dial(dialCtx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("store: dial %s: %w", p.name, err)
		p.lastErr = err
		p.transition(StateFailed, err)
		return zero, err
	}
	if gen != p.gen {
		if p.config.Close != nil {
			_ = p.config.Close(c)
		}
		return zero, ErrPoolClosed
	}
	p.client = c
	p.lastErr = nil
	p.transition(StateConnected, nil)
	return c, nil
}

// Ping dials if needed and pings the client.
func (p *Pool[C]) Ping(ctx context.Context) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	if p.config.Ping == nil {
		return nil
	}
	return p.config.Ping(ctx, c)
}

// State returns the current state.
func (p *Pool[C]) State() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the error of the most recent failed dial.
func (p *Pool[C]) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Dials returns the number of dial attempts.
func (p *Pool[C]) Dials() int64 { return p.dials.Load() }

// Close releases the client and returns the pool to Unconnected. A later Get
// dials again. A dial in flight during Close is discarded.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.state == StateConnected && p.config.Close != nil {
		err = p.config.Close(p.client)
	}
	var zero C
	p.client = zero
	p.gen++
	p.transition(StateUnconnected, nil)
	return err
}

func (p *Pool[C]) transition(to PoolState, err error) {
	from := p.state
	p.state = to
	if from != to && p.config.OnStateChange != nil {
		p.config.OnStateChange(from, to, err)
	}
}
