package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/observe"
	"github.com/jonwraymond/rpccache/store"
)

// Config is the file and flag configuration of the rpccache command.
type Config struct {
	Listen   string `mapstructure:"listen"`
	Prefix   string `mapstructure:"prefix"`
	LogLevel string `mapstructure:"log_level"`

	// Backends override the RPCCACHE_* backend environment.
	Backends  BackendsConfig  `mapstructure:"backends"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`

	// Secrets configures secret providers by name, e.g. {"file": {"root": "/run/secrets"}}.
	Secrets map[string]map[string]any `mapstructure:"secrets"`

	Procedures []ProcedureConfig `mapstructure:"procedures"`
}

// BackendsConfig holds backend endpoints. Values may contain ${ENV} and
// secretref: references.
type BackendsConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	KVURL    string `mapstructure:"kv_url"`
	KVToken  string `mapstructure:"kv_token"`
}

// TelemetryConfig selects exporters. Empty or "none" disables a signal.
type TelemetryConfig struct {
	Tracing   string  `mapstructure:"tracing"`
	Metrics   string  `mapstructure:"metrics"`
	SamplePct float64 `mapstructure:"sample_pct"`
}

// AuthConfig configures caller authentication for serve.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Issuer      string        `mapstructure:"issuer"`
	Audience    string        `mapstructure:"audience"`
	TenantClaim string        `mapstructure:"tenant_claim"`
	RolesClaim  string        `mapstructure:"roles_claim"`
	APIKeys     []APIKeyEntry `mapstructure:"api_keys"`
}

// APIKeyEntry registers one API key by its SHA-256 hash.
type APIKeyEntry struct {
	ID     string   `mapstructure:"id"`
	Hash   string   `mapstructure:"hash"`
	Caller string   `mapstructure:"caller"`
	Tenant string   `mapstructure:"tenant"`
	Roles  []string `mapstructure:"roles"`
}

// ProcedureConfig declares one proxied procedure.
type ProcedureConfig struct {
	Route    string `mapstructure:"route"`
	Kind     string `mapstructure:"kind"`
	Upstream string `mapstructure:"upstream"`

	// Cache enables caching of a query.
	Cache *CacheConfig `mapstructure:"cache"`

	// Invalidates lists the cached queries a mutation makes stale.
	Invalidates []string `mapstructure:"invalidates"`
}

// CacheConfig is the file form of cache.Config.
type CacheConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	Backend      string        `mapstructure:"backend"`
	UserSpecific bool          `mapstructure:"user_specific"`
	Global       bool          `mapstructure:"global"`
	Debug        bool          `mapstructure:"debug"`
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
}

// Cache converts c.
func (c *CacheConfig) Cache() *cache.Config {
	if c == nil {
		return nil
	}
	return &cache.Config{
		TTL:          c.TTL,
		Backend:      cache.BackendKind(c.Backend),
		UserSpecific: c.UserSpecific,
		GlobalCache:  c.Global,
		Debug:        c.Debug,
		Connection:   cache.Connection{URL: c.URL, Token: c.Token},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("prefix", "/rpc")
	v.SetDefault("log_level", "info")
	v.SetDefault("telemetry.tracing", "none")
	v.SetDefault("telemetry.metrics", "none")
	v.SetDefault("telemetry.sample_pct", 1.0)
	v.SetDefault("backends.redis_url", "")
	v.SetDefault("backends.kv_url", "")
	v.SetDefault("backends.kv_token", "")
}

// loadConfig reads path, or rpccache.yaml from the working directory or
// /etc/rpccache when path is empty. A missing default file is not an error.
// RPCCACHE_<KEY> environment variables override file values.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rpccache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rpccache")
	}

	v.SetEnvPrefix("RPCCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks procedure declarations.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Procedures))
	for i, p := range c.Procedures {
		if p.Route == "" {
			return fmt.Errorf("procedures[%d]: route is required", i)
		}
		if seen[p.Route] {
			return fmt.Errorf("procedures[%d]: duplicate route %q", i, p.Route)
		}
		seen[p.Route] = true

		switch observe.ProcedureKind(p.Kind) {
		case observe.KindQuery:
			if len(p.Invalidates) > 0 {
				return fmt.Errorf("procedure %s: only mutations invalidate", p.Route)
			}
		case observe.KindMutation:
			if p.Cache != nil {
				return fmt.Errorf("procedure %s: mutations are not cached", p.Route)
			}
		default:
			return fmt.Errorf("procedure %s: kind must be query or mutation, got %q", p.Route, p.Kind)
		}
		if p.Upstream == "" {
			return fmt.Errorf("procedure %s: upstream is required", p.Route)
		}
		if cc := p.Cache.Cache(); cc != nil {
			if err := cc.WithDefaults().Validate(); err != nil {
				return fmt.Errorf("procedure %s: %w", p.Route, err)
			}
		}
	}
	return nil
}

// Env merges the backend section over the RPCCACHE_* environment.
func (c *Config) Env() (store.Env, error) {
	env, err := store.LoadEnv()
	if err != nil {
		return store.Env{}, err
	}
	if c.Backends.RedisURL != "" {
		env.RedisURL = c.Backends.RedisURL
	}
	if c.Backends.KVURL != "" {
		env.KVURL = c.Backends.KVURL
	}
	if c.Backends.KVToken != "" {
		env.KVToken = c.Backends.KVToken
	}
	return env, env.Validate()
}

// Observe returns the telemetry configuration.
func (c *Config) Observe(version string) observe.Config {
	enabled := func(exporter string) bool { return exporter != "" && exporter != "none" }
	return observe.Config{
		ServiceName: "rpccache",
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   enabled(c.Telemetry.Tracing),
			Exporter:  c.Telemetry.Tracing,
			SamplePct: c.Telemetry.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  enabled(c.Telemetry.Metrics),
			Exporter: c.Telemetry.Metrics,
		},
		Logging: observe.LoggingConfig{Enabled: true, Level: c.LogLevel},
	}
}
