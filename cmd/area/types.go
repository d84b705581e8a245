package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTypesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the registered action and reaction types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)
			return printTypes(cmd.OutOrStdout(), rt)
		},
	}
}

func printTypes(out io.Writer, rt *runtime) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tDESCRIPTION")
	for _, info := range rt.triggers.List() {
		fmt.Fprintf(w, "action\t%s\t%s\n", info.Name, info.Description)
	}
	for _, info := range rt.reactions.List() {
		fmt.Fprintf(w, "reaction\t%s\t%s\n", info.Name, info.Description)
	}
	return w.Flush()
}
