package store

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the backend configuration read from the environment. Connection
// overrides in a cache.Config take precedence over it.
type Env struct {
	RedisURL string `env:"RPCCACHE_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	KVURL    string `env:"RPCCACHE_KV_URL"`
	KVToken  string `env:"RPCCACHE_KV_TOKEN"`

	// OpTimeout bounds every backend operation.
	OpTimeout   time.Duration `env:"RPCCACHE_OP_TIMEOUT" envDefault:"250ms"`
	DialTimeout time.Duration `env:"RPCCACHE_DIAL_TIMEOUT" envDefault:"5s"`

	BreakerThreshold int           `env:"RPCCACHE_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"RPCCACHE_BREAKER_COOLDOWN" envDefault:"10s"`

	// MaxInFlight caps concurrent operations per endpoint.
	MaxInFlight int `env:"RPCCACHE_MAX_INFLIGHT" envDefault:"128"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	return parseEnv(env.Options{})
}

// LoadEnvFrom reads Env from vars instead of the process environment.
func LoadEnvFrom(vars map[string]string) (Env, error) {
	return parseEnv(env.Options{Environment: vars})
}

func parseEnv(opts env.Options) (Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return Env{}, fmt.Errorf("store: parse env: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Validate checks URLs and limits. Empty URLs are allowed; resolving a
// backend without one fails with ErrNoEndpoint.
func (e Env) Validate() error {
	for name, url := range map[string]string{"RPCCACHE_REDIS_URL": e.RedisURL, "RPCCACHE_KV_URL": e.KVURL} {
		if url == "" || hasReference(url) {
			continue
		}
		if _, err := redisOptions(url, ""); err != nil {
			return fmt.Errorf("store: %s: %w", name, err)
		}
	}
	if e.OpTimeout < 0 || e.DialTimeout < 0 || e.BreakerCooldown < 0 {
		return fmt.Errorf("store: negative duration in env")
	}
	if e.BreakerThreshold < 0 || e.MaxInFlight < 0 {
		return fmt.Errorf("store: negative limit in env")
	}
	return nil
}
