package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Timeout bounds each operation with a deadline.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a Timeout. Non-positive durations default to 30 seconds.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = 30 * time.Second
	}
	return &Timeout{d: d}
}

// Duration returns the configured deadline.
func (t *Timeout) Duration() time.Duration { return t.d }

// Do runs op with a derived deadline. Expiry of that deadline is reported
// as ErrTimeout; a deadline or cancellation of ctx itself is returned as is.
func (t *Timeout) Do(ctx context.Context, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	err := op(opCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, t.d, err)
	}
	return err
}
