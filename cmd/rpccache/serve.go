package main

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/rpccache/auth"
	"github.com/jonwraymond/rpccache/health"
	"github.com/jonwraymond/rpccache/observe"
	"github.com/jonwraymond/rpccache/rpc"
	"github.com/jonwraymond/rpccache/secret"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured procedures with caching",
		Long: `Serves every procedure in the config file under the rpc prefix, forwarding
calls to its upstream. Cached queries are answered from their store when an
entry exists; mutations invalidate the queries they list after the upstream
accepts them. Health probes are served at /healthz, /readyz and /health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", ":8080", "listen address")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	obs, err := observe.NewObserver(ctx, a.cfg.Observe(version))
	if err != nil {
		return err
	}
	logger := obs.Logger()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		closeQuietly(ctx, logger, "telemetry", func() error { return obs.Shutdown(shutdownCtx) })
	}()

	procMW, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return err
	}
	cacheMetrics, err := observe.CacheMetricsFromObserver(obs)
	if err != nil {
		return err
	}

	reg, secrets, err := a.registry(logger)
	if err != nil {
		return err
	}
	defer closeQuietly(ctx, logger, "registry", reg.Close)

	authn, err := a.authenticator(ctx, secrets)
	if err != nil {
		return err
	}

	agg := health.NewAggregator(health.AggregatorConfig{})
	srvCfg := rpc.Config{
		Prefix:        a.cfg.Prefix,
		Resolver:      reg,
		Authenticator: authn,
		Observe:       procMW,
		Logger:        logger,
		CacheMetrics:  cacheMetrics,
		Tracer:        obs.Tracer(),
		Health:        agg,
	}
	if a.cfg.Telemetry.Metrics == "prometheus" {
		srvCfg.Metrics = promhttp.Handler()
	}
	srv := rpc.NewServer(srvCfg)

	if err := registerProcedures(srv, a.cfg.Procedures); err != nil {
		return err
	}
	if err := agg.Register(reg.Checkers(health.PingConfig{})...); err != nil {
		return err
	}
	logger.Info(ctx, "procedures registered",
		observe.Field{Key: "count", Value: len(a.cfg.Procedures)},
		observe.Field{Key: "backends", Value: reg.Endpoints()},
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(a.cfg.Listen) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// registerProcedures registers queries before mutations so every mutation
// finds the queries it invalidates.
func registerProcedures(srv *rpc.Server, procs []ProcedureConfig) error {
	ordered := slices.Clone(procs)
	slices.SortStableFunc(ordered, func(x, y ProcedureConfig) int {
		return kindOrder(x.Kind) - kindOrder(y.Kind)
	})

	for _, p := range ordered {
		h := rpc.Proxy(rpc.ProxyConfig{URL: p.Upstream, Client: &http.Client{Timeout: 30 * time.Second}})
		var err error
		if observe.ProcedureKind(p.Kind) == observe.KindMutation {
			invs := make([]rpc.Invalidation, 0, len(p.Invalidates))
			for _, route := range p.Invalidates {
				invs = append(invs, rpc.Invalidate(route))
			}
			err = srv.Mutation(p.Route, h, invs...)
		} else {
			err = srv.Query(p.Route, h, p.Cache.Cache())
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", p.Route, err)
		}
	}
	return nil
}

func kindOrder(kind string) int {
	if observe.ProcedureKind(kind) == observe.KindMutation {
		return 1
	}
	return 0
}

// authenticator builds the chain of configured authenticators, or nil when
// none is configured and every call is anonymous.
func (a *app) authenticator(ctx context.Context, secrets *secret.Resolver) (auth.Authenticator, error) {
	cfg := a.cfg.Auth
	var chain []auth.Authenticator

	if cfg.JWTSecret != "" {
		key, err := secrets.ResolveValue(ctx, cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("auth: jwt secret: %w", err)
		}
		chain = append(chain, auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:      cfg.Issuer,
			Audience:    cfg.Audience,
			TenantClaim: cfg.TenantClaim,
			RolesClaim:  cfg.RolesClaim,
		}, auth.NewStaticKeyProvider([]byte(key))))
	}

	if len(cfg.APIKeys) > 0 {
		keys := auth.NewMemoryAPIKeyStore()
		for _, k := range cfg.APIKeys {
			if k.Hash == "" || k.Caller == "" {
				return nil, fmt.Errorf("auth: api key %q needs hash and caller", k.ID)
			}
			keys.Add(&auth.APIKeyInfo{ID: k.ID, KeyHash: k.Hash, CallerID: k.Caller, Tenant: k.Tenant, Roles: k.Roles})
		}
		chain = append(chain, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, keys))
	}

	if len(chain) == 0 {
		return nil, nil
	}
	return auth.NewChain(chain...), nil
}
