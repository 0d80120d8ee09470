package auth

import (
	"context"
	"net/http"
)

// Authenticator validates credentials and returns a caller.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines.
//   - Errors: Authenticate returns (nil, error) for internal errors and
//     (Result, nil) for authentication failures; check Result.Authenticated.
type Authenticator interface {
	Name() string

	// Supports reports whether the request carries credentials this
	// authenticator understands.
	Supports(req *Request) bool

	Authenticate(ctx context.Context, req *Request) (*Result, error)
}

// Request carries the credentials of an incoming call.
type Request struct {
	Headers http.Header

	// Route is the procedure being called.
	Route string
}

// NewRequest builds a Request from HTTP headers.
func NewRequest(route string, headers http.Header) *Request {
	return &Request{Route: route, Headers: headers}
}

// Header returns the first value of the named header.
func (r *Request) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// Result is the outcome of an authentication attempt.
type Result struct {
	Authenticated bool

	// Caller is set when Authenticated is true.
	Caller *Caller

	// Err is set when Authenticated is false.
	Err error

	// Method names the authenticator that produced the result.
	Method string
}

// Success creates a successful result.
func Success(caller *Caller) *Result {
	return &Result{
		Authenticated: true,
		Caller:        caller,
		Method:        string(caller.Method),
	}
}

// Failure creates a failed result.
func Failure(err error, method string) *Result {
	return &Result{Err: err, Method: method}
}

// AuthenticatorFunc adapts functions to Authenticator.
type AuthenticatorFunc struct {
	name     string
	supports func(req *Request) bool
	auth     func(ctx context.Context, req *Request) (*Result, error)
}

// NewAuthenticatorFunc creates an AuthenticatorFunc.
func NewAuthenticatorFunc(
	name string,
	supports func(req *Request) bool,
	auth func(ctx context.Context, req *Request) (*Result, error),
) *AuthenticatorFunc {
	return &AuthenticatorFunc{name: name, supports: supports, auth: auth}
}

func (f *AuthenticatorFunc) Name() string { return f.name }

func (f *AuthenticatorFunc) Supports(req *Request) bool { return f.supports(req) }

func (f *AuthenticatorFunc) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	return f.auth(ctx, req)
}

var _ Authenticator = (*AuthenticatorFunc)(nil)
