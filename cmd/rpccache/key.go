package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKeyCmd(_ *app) *cobra.Command {
	var scope scopeFlags
	cmd := &cobra.Command{
		Use:   "key <route> [input-json]",
		Short: "Print the cache key a call is stored under",
		Example: `  rpccache key user.getProfile '{"id":1}' --user-specific --caller u1
  cache:user:user.getProfile:u1:{"id":1}`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			route, input, err := callArgs(args)
			if err != nil {
				return err
			}
			key, err := deriveKey(route, input, scope)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
	scope.register(cmd)
	return cmd
}
