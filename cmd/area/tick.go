package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/rendis/area/pkg/schema"
)

func newTickCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler tick and print the results as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			results, tickErr := rt.scheduler.RunOnce(ctx)
			if results == nil {
				results = []schema.ExecutionResult{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
			return tickErr
		},
	}
}
