package cache

import (
	"fmt"
	"net/url"
	"time"
)

// Config configures caching for one wrapped procedure.
type Config struct {
	// TTL is how long an entry lives. Zero stores entries without expiry.
	TTL time.Duration

	// Backend selects the store. Empty means BackendRedis.
	Backend BackendKind

	// UserSpecific scopes entries to the caller.
	UserSpecific bool

	// GlobalCache shares entries across callers. It wins over UserSpecific.
	GlobalCache bool

	// GetCacheKey replaces the default key scheme when set.
	GetCacheKey KeyFunc

	// Debug enables hit, miss and write logging. Errors are always logged.
	Debug bool

	// Connection overrides the environment's connection settings.
	Connection Connection
}

// DefaultConfig returns a permanent, unscoped configuration on the Redis store.
func DefaultConfig() Config {
	return Config{Backend: BackendRedis}
}

// WithDefaults fills unset fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendRedis
	}
	return c
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative, got %s", ErrInvalidConfig, c.TTL)
	}
	if !c.Backend.Valid() {
		return fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnknownKind, c.Backend)
	}
	if c.Connection.IsZero() {
		return nil
	}
	if c.Backend == BackendMemory {
		return fmt.Errorf("%w: the memory backend takes no connection", ErrInvalidConfig)
	}
	if c.Connection.URL != "" {
		u, err := url.Parse(c.Connection.URL)
		if err != nil {
			return fmt.Errorf("%w: connection url: %w", ErrInvalidConfig, err)
		}
		if u.Scheme == "" {
			return fmt.Errorf("%w: connection url %q has no scheme", ErrInvalidConfig, c.Connection.URL)
		}
	}
	return nil
}

// Scope names the key scope the configuration selects.
func (c Config) Scope() string {
	switch {
	case c.GetCacheKey != nil:
		return "custom"
	case c.GlobalCache:
		return "global"
	case c.UserSpecific:
		return "user"
	default:
		return "route"
	}
}
