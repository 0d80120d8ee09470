package auth

import "context"

// Chain tries authenticators in order and returns the first success.
type Chain struct {
	authenticators []Authenticator
}

// NewChain creates a chain. Nil entries are skipped.
func NewChain(auths ...Authenticator) *Chain {
	c := &Chain{}
	for _, a := range auths {
		if a != nil {
			c.authenticators = append(c.authenticators, a)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Supports reports whether any authenticator in the chain supports req.
func (c *Chain) Supports(req *Request) bool {
	for _, a := range c.authenticators {
		if a.Supports(req) {
			return true
		}
	}
	return false
}

// Authenticate runs every supporting authenticator until one succeeds.
// Internal errors stop the chain. Without a success, the last failure is
// returned, or ErrMissingCredentials if nothing supported the request.
func (c *Chain) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	var last *Result
	for _, a := range c.authenticators {
		if !a.Supports(req) {
			continue
		}
		result, err := a.Authenticate(ctx, req)
		if err != nil {
			return nil, err
		}
		if result.Authenticated {
			return result, nil
		}
		last = result
	}
	if last != nil {
		return last, nil
	}
	return Failure(ErrMissingCredentials, c.Name()), nil
}

var _ Authenticator = (*Chain)(nil)
