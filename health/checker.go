package health

import (
	"context"
	"time"
)

// Status is the health of one backend or of the whole service.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is the outcome of one check.
type Result struct {
	Status  Status
	Message string

	// Details holds backend specific facts such as the pool state.
	Details map[string]any

	Duration time.Duration
	Err      error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Err: err}
}

// With returns a copy of r carrying details.
func (r Result) With(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker checks one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (f *CheckerFunc) Name() string { return f.name }

func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// Pinger is implemented by backend pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Describer optionally adds details to a ping result, and may report the
// component as degraded even when the ping succeeds.
type Describer interface {
	Describe() (details map[string]any, degraded bool)
}

// PingConfig configures a ping checker.
type PingConfig struct {
	// SlowAfter marks a successful ping slower than this as degraded.
	// Default: 500ms
	SlowAfter time.Duration
}

type pingChecker struct {
	name   string
	target Pinger
	config PingConfig
}

// NewPingChecker creates a checker that pings target.
func NewPingChecker(name string, target Pinger, config PingConfig) Checker {
	if config.SlowAfter <= 0 {
		config.SlowAfter = 500 * time.Millisecond
	}
	return &pingChecker{name: name, target: target, config: config}
}

func (c *pingChecker) Name() string { return c.name }

func (c *pingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.target.Ping(ctx)
	elapsed := time.Since(start)

	var (
		details  map[string]any
		degraded bool
	)
	if d, ok := c.target.(Describer); ok {
		details, degraded = d.Describe()
	}

	var r Result
	switch {
	case err != nil:
		r = Unhealthy("ping failed", err)
	case degraded:
		r = Degraded("reachable, guarded")
	case elapsed > c.config.SlowAfter:
		r = Degraded("slow ping")
	default:
		r = Healthy("ok")
	}
	r.Duration = elapsed
	return r.With(details)
}
