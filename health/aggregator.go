package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds a whole run. Default: 5 seconds
	Timeout time.Duration
}

// Aggregator runs a set of checkers.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates an empty aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Aggregator{timeout: config.Timeout}
}

// Register adds checkers. Names must be unique.
func (a *Aggregator) Register(checkers ...Checker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range checkers {
		for _, existing := range a.checkers {
			if existing.Name() == c.Name() {
				return fmt.Errorf("%w: %s", ErrDuplicateChecker, c.Name())
			}
		}
		a.checkers = append(a.checkers, c)
	}
	return nil
}

// Names returns checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		names[i] = c.Name()
	}
	return names
}

// Report is the outcome of one aggregate run.
type Report struct {
	Status Status
	Checks []NamedResult
}

// NamedResult pairs a checker name with its result.
type NamedResult struct {
	Name string
	Result
}

// Run checks every component concurrently. Results keep registration order.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]NamedResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = NamedResult{Name: c.Name(), Result: run(ctx, c)}
		}()
	}
	wg.Wait()

	return Report{Status: Overall(results), Checks: results}
}

// CheckOne runs the named checker.
func (a *Aggregator) CheckOne(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	var target Checker
	for _, c := range a.checkers {
		if c.Name() == name {
			target = c
			break
		}
	}
	a.mu.RUnlock()
	if target == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrCheckerNotFound, name)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, target), nil
}

// Overall folds results: any unhealthy wins, then any degraded.
func Overall(results []NamedResult) Status {
	status := StatusHealthy
	for _, r := range results {
		if r.Status > status {
			status = r.Status
		}
	}
	return status
}

func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	select {
	case r := <-done:
		if r.Duration == 0 {
			r.Duration = time.Since(start)
		}
		return r
	case <-ctx.Done():
		r := Unhealthy("check timed out", ErrCheckTimeout)
		r.Duration = time.Since(start)
		return r
	}
}
