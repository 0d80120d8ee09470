package cache

import (
	"context"

	"github.com/jonwraymond/rpccache/auth"
)

// Call identifies one procedure invocation.
type Call struct {
	// Route is the procedure path, e.g. "user.getProfile".
	Route string

	// Input is the raw input. Nil means the call has none.
	Input any

	// CallerID identifies the caller. Empty means anonymous.
	CallerID string
}

// Caller returns CallerID, or AnonymousCaller when it is empty.
func (c Call) Caller() string {
	if c.CallerID == "" {
		return AnonymousCaller
	}
	return c.CallerID
}

// CallFromContext builds a Call whose caller is the authenticated caller
// attached to ctx. Calls without one are anonymous.
func CallFromContext(ctx context.Context, route string, input any) Call {
	return Call{Route: route, Input: input, CallerID: auth.CallerIDFromContext(ctx)}
}
