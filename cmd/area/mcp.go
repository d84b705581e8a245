package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	areamcp "github.com/rendis/area/pkg/mcp"
)

func (rt *runtime) newMCPServer() *areamcp.AreaServer {
	return areamcp.NewAreaServer(areamcp.AreaServerDeps{
		Store:     rt.store,
		Validator: rt.validator,
		Ticker:    rt.scheduler,
		Version:   version,
		Logger:    rt.logger,
	})
}

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the area management tools over MCP stdio",
		Long: `Serves area.list, area.get, area.create, area.toggle, area.executions and
area.tick on stdin/stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			c.logger.Info("mcp server starting", "transport", "stdio", "db_path", c.cfg.DBPath)
			return rt.newMCPServer().Serve(ctx)
		},
	}
}
