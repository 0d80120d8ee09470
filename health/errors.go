package health

import "errors"

var (
	// ErrCheckTimeout is recorded when a checker misses the aggregate deadline.
	ErrCheckTimeout = errors.New("health: check timed out")

	// ErrCheckerNotFound is returned for unknown checker names.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrDuplicateChecker is returned when a name is registered twice.
	ErrDuplicateChecker = errors.New("health: duplicate checker")
)
