// Package secret resolves references in backend connection settings.
//
// A connection URL or token may hold:
//   - environment references, expanded strictly: ${REDIS_PASSWORD}
//   - a full secret reference: secretref:file:/run/secrets/kv_token
//   - inline secret references: redis://:secretref:env:REDIS_PASS@cache:6379/0
//
// References are resolved by named providers. The env and file providers are
// built in; others can be registered on a Registry.
package secret
