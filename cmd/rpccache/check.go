package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/health"
	"github.com/jonwraymond/rpccache/store"
)

var errUnhealthy = errors.New("backends unhealthy")

func newCheckCmd(a *app) *cobra.Command {
	var (
		timeout   time.Duration
		slowAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ping the configured cache backends",
		Long: `Resolves the default string store, the native store when RPCCACHE_KV_URL
is set, and the backend of every cached procedure in the config file, then
pings each endpoint once and prints the report as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := a.logger()

			reg, _, err := a.registry(logger)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, logger, "registry", reg.Close)

			if err := resolveConfigured(reg, a.cfg); err != nil {
				return err
			}

			agg := health.NewAggregator(health.AggregatorConfig{Timeout: timeout})
			if err := agg.Register(reg.Checkers(health.PingConfig{SlowAfter: slowAfter})...); err != nil {
				return err
			}
			report := agg.Run(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report.ToJSON()); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("%w: %d of %d", errUnhealthy, countStatus(report, health.StatusUnhealthy), len(report.Checks))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVar(&timeout, "timeout", 5*time.Second, "deadline for each ping")
	f.DurationVar(&slowAfter, "slow-after", 500*time.Millisecond, "report pings slower than this as degraded")
	return cmd
}

// resolveConfigured resolves every backend the configuration names so the
// registry holds an endpoint for each.
func resolveConfigured(reg *store.Registry, cfg *Config) error {
	env, err := cfg.Env()
	if err != nil {
		return err
	}
	if env.RedisURL != "" {
		if _, err := reg.Resolve(cache.BackendRedis, cache.Connection{}); err != nil {
			return err
		}
	}
	if env.KVURL != "" {
		if _, err := reg.Resolve(cache.BackendKV, cache.Connection{}); err != nil {
			return err
		}
	}
	for _, p := range cfg.Procedures {
		cc := p.Cache.Cache()
		if cc == nil {
			continue
		}
		c := cc.WithDefaults()
		if _, err := reg.Resolve(c.Backend, c.Connection); err != nil {
			return fmt.Errorf("procedure %s: %w", p.Route, err)
		}
	}
	return nil
}

func countStatus(r health.Report, s health.Status) int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == s {
			n++
		}
	}
	return n
}
