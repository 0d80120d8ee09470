// Package cache intercepts procedure calls and serves their results from a
// cache backend.
//
// A Middleware is built once per wrapped procedure from a validated Config. On
// every call it derives a key from the route, the input and the caller, looks
// the key up in a Backend, and only invokes the procedure on a miss. Successful
// results are sanitized (see Sanitize) before they are written so that a value
// the backend cannot represent never aborts the call.
//
// Keys follow a fixed scheme:
//
//	cache:<route>:<input>                    default
//	cache:global:<route>:<input>             Config.GlobalCache
//	cache:user:<route>:<caller>:<input>      Config.UserSpecific
//
// where <input> is the input's JSON encoding as produced by the encoder, with
// no canonicalization. Config.GetCacheKey replaces the scheme entirely.
//
// Backend failures never fail a call: Intercept degrades to invoking the
// procedure uncached. Invalidate, which has nothing to degrade to, returns them.
package cache
