package auth

import "context"

type contextKey int

const callerKey contextKey = iota

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the caller attached to ctx, or nil.
func CallerFromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey).(*Caller)
	return c
}

// CallerIDFromContext returns the ID of the caller attached to ctx. It is
// empty for anonymous calls.
func CallerIDFromContext(ctx context.Context) string {
	c := CallerFromContext(ctx)
	if c.IsAnonymous() {
		return ""
	}
	return c.ID
}
