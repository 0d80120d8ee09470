package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/observe"
	"github.com/jonwraymond/rpccache/secret"
	"github.com/jonwraymond/rpccache/store"
)

// app carries what every subcommand shares.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "rpccache",
		Short:         "Cache procedure results in Redis-protocol stores",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./rpccache.yaml or /etc/rpccache/rpccache.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("redis-url", "", "string store URL (overrides RPCCACHE_REDIS_URL)")
	flags.String("kv-url", "", "native store URL (overrides RPCCACHE_KV_URL)")
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("backends.redis_url", flags.Lookup("redis-url"))
	_ = a.v.BindPFlag("backends.kv_url", flags.Lookup("kv-url"))

	root.AddCommand(
		newKeyCmd(a),
		newInvalidateCmd(a),
		newCheckCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) logger() observe.Logger {
	return observe.NewLogger(a.cfg.LogLevel)
}

// secrets builds the resolver for references in backend settings. Without a
// secrets section, env references are resolved.
func (a *app) secrets() (*secret.Resolver, error) {
	providers := a.cfg.Secrets
	if len(providers) == 0 {
		providers = map[string]map[string]any{"env": {}}
	}
	return secret.NewRegistry().NewResolverFromConfig(true, providers)
}

// registry builds the backend registry. The caller closes it.
func (a *app) registry(logger observe.Logger) (*store.Registry, *secret.Resolver, error) {
	env, err := a.cfg.Env()
	if err != nil {
		return nil, nil, err
	}
	secrets, err := a.secrets()
	if err != nil {
		return nil, nil, err
	}
	return store.NewRegistry(env, store.WithSecrets(secrets), store.WithLogger(logger)), secrets, nil
}

// scopeFlags are the flags selecting an entry's key.
type scopeFlags struct {
	userSpecific bool
	global       bool
	caller       string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&s.userSpecific, "user-specific", false, "entry is scoped to --caller")
	f.BoolVar(&s.global, "global", false, "entry is shared by all callers")
	f.StringVar(&s.caller, "caller", "", "caller ID of a user scoped entry (default anonymous)")
}

// callArgs parses <route> [input]. The input is kept byte for byte so keys
// match those the server derives from the same request.
func callArgs(args []string) (route string, input any, err error) {
	route = args[0]
	if len(args) < 2 || args[1] == "" {
		return route, nil, nil
	}
	raw := json.RawMessage(args[1])
	if !json.Valid(raw) {
		return "", nil, fmt.Errorf("input %q is not valid JSON", args[1])
	}
	return route, raw, nil
}

func deriveKey(route string, input any, s scopeFlags) (string, error) {
	cfg := cache.Config{UserSpecific: s.userSpecific, GlobalCache: s.global}
	return cache.DeriveKey(cache.Call{Route: route, Input: input, CallerID: s.caller}, cfg)
}

func closeQuietly(ctx context.Context, logger observe.Logger, name string, close func() error) {
	if err := close(); err != nil {
		logger.Warn(ctx, "close failed", observe.Field{Key: "component", Value: name}, observe.Field{Key: "error", Value: err.Error()})
	}
}
