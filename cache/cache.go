package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors for cache operations.
var (
	ErrNilBackend    = errors.New("cache: backend is nil")
	ErrNilResolver   = errors.New("cache: resolver is nil")
	ErrInvalidKey    = errors.New("cache: key is invalid")
	ErrInvalidConfig = errors.New("cache: invalid configuration")
	ErrUnknownKind   = errors.New("cache: unknown backend kind")
)

// BackendKind selects the backend a Config is stored in.
type BackendKind string

const (
	// BackendRedis is a string-oriented store: values are stringified on write
	// and parsed on read.
	BackendRedis BackendKind = "redis"

	// BackendKV is a natively typed remote store that owns its wire encoding.
	BackendKV BackendKind = "kv"

	// BackendMemory is the in-process native store.
	BackendMemory BackendKind = "memory"
)

// Valid reports whether k names a known backend.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendRedis, BackendKV, BackendMemory:
		return true
	default:
		return false
	}
}

// Connection overrides the environment's connection settings for a backend.
type Connection struct {
	// URL is the backend address, e.g. redis://localhost:6379/0.
	URL string

	// Token is the password or access token. Empty keeps the URL's credentials.
	Token string
}

// IsZero reports whether no override is set.
func (c Connection) IsZero() bool {
	return c.URL == "" && c.Token == ""
}

// Backend is the storage contract shared by every backend kind.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines.
// - Get returns (nil, false, nil) on miss; what counts as a hit is backend-defined.
// - Set with ttl <= 0 stores the value without expiry.
// - Delete is idempotent.
type Backend interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Resolver maps a backend selector and optional connection override to a Backend.
type Resolver interface {
	Resolve(kind BackendKind, conn Connection) (Backend, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(kind BackendKind, conn Connection) (Backend, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(kind BackendKind, conn Connection) (Backend, error) {
	return f(kind, conn)
}

// StaticResolver resolves every selector to the same backend.
func StaticResolver(b Backend) Resolver {
	return ResolverFunc(func(BackendKind, Connection) (Backend, error) {
		if b == nil {
			return nil, ErrNilBackend
		}
		return b, nil
	})
}

// ValidateKey rejects blank keys. Keys are otherwise opaque: inputs are not
// canonicalized, so any byte a route or an input can contain may appear.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
