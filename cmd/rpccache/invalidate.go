package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/rpccache/cache"
)

func newInvalidateCmd(a *app) *cobra.Command {
	var (
		scope   scopeFlags
		backend string
		url     string
		token   string
	)
	cmd := &cobra.Command{
		Use:   "invalidate <route> [input-json]",
		Short: "Delete the cache entry of a call",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			route, input, err := callArgs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := a.logger()

			reg, _, err := a.registry(logger)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, logger, "registry", reg.Close)

			opts := cache.InvalidateOptions{
				Backend:      cache.BackendKind(backend),
				Connection:   cache.Connection{URL: url, Token: token},
				UserSpecific: scope.userSpecific,
				GlobalCache:  scope.global,
				CallerID:     scope.caller,
			}
			if err := cache.Invalidate(ctx, reg, route, input, opts); err != nil {
				return err
			}

			key, err := cache.DeriveKey(cache.Call{Route: route, Input: input, CallerID: scope.caller}, opts.Config())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "invalidated", key)
			return err
		},
	}
	scope.register(cmd)
	f := cmd.Flags()
	f.StringVar(&backend, "backend", string(cache.BackendRedis), "store holding the entry: redis or kv")
	f.StringVar(&url, "url", "", "connection URL override")
	f.StringVar(&token, "token", "", "connection token override")
	return cmd
}
