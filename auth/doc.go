// Package auth identifies the caller of a procedure.
//
// Authenticators turn request headers into a Caller (JWT bearer tokens and
// hashed API keys are built in; Chain tries several in order). The transport
// attaches the Caller to the request context with WithCaller, and user scoped
// cache entries are keyed by its ID.
package auth
