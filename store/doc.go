// Package store provides the remote cache backends and the registry that
// resolves backend selectors to them.
//
// Two remote kinds are supported:
//
//   - StringStore ("redis") keeps values as JSON text. Writes stringify with
//     cache.SafeStringify; reads parse JSON and fall back to the raw string
//     for values written by other clients.
//   - NativeStore ("kv") hands sanitized values to a KVClient, which owns its
//     wire encoding. The bundled client encodes msgpack over the Redis
//     protocol.
//
// Connections are owned by a Pool, which dials lazily on first use,
// collapses concurrent first use into a single dial, and redials after a
// failure. Every backend operation runs through a resilience.Guard.
//
// A Registry implements cache.Resolver. It reads defaults from the
// environment (see LoadEnv), resolves secret references in connection
// overrides, shares one pool per endpoint, and exposes a health checker for
// each of them:
//
//	env, err := store.LoadEnv()
//	reg := store.NewRegistry(env, store.WithSecrets(resolver))
//	defer reg.Close()
//
//	mw, err := cache.New(cache.Config{TTL: time.Minute}, reg)
package store
