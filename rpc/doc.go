// Package rpc serves procedures over HTTP with caching.
//
// Procedures are registered on a Server by route. Queries may carry a
// cache.Config; their results are cached by a cache.Middleware resolved when
// the query is registered. Mutations name the cached queries they make stale
// and invalidate them after they succeed.
//
//	srv, err := rpc.NewServer(rpc.Config{Resolver: registry, Authenticator: chain})
//	err = srv.Query("user.getProfile", getProfile, &cache.Config{TTL: time.Minute, UserSpecific: true})
//	err = srv.Mutation("user.updateProfile", updateProfile, rpc.Invalidate("user.getProfile"))
//
// Wire format, under the configured prefix (default /rpc):
//
//	GET  /rpc/<route>?input=<json>   queries
//	POST /rpc/<route>                queries and mutations; the body is the input
//
// Responses are {"result":{"data":...}} or {"error":{"code":...,"message":...}}.
// The input is used verbatim in cache keys, so clients that want shared
// entries must send byte-identical inputs.
package rpc
