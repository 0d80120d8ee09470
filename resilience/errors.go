package resilience

import "errors"

var (
	// ErrCircuitOpen is returned while a breaker rejects operations.
	ErrCircuitOpen = errors.New("resilience: circuit open")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrSaturated is returned when a limiter has no free slot.
	ErrSaturated = errors.New("resilience: too many operations in flight")
)
