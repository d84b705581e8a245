package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/area/internal/logging"
)

// cli is the state shared by every subcommand once flags are parsed.
type cli struct {
	sources configSources
	cfg     Config
	level   *slog.LevelVar
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{sources: defaultSources(), level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "area",
		Short: "AREA runs user-defined action/reaction automations",
		Long: `area evaluates the trigger of every active Area on a fixed tick and runs
the bound reactions when it fires, recording the outcome in the execution ledger.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.sources.Settings, "config", c.sources.Settings, "settings.json path")
	pf.String("db-path", "", "database path (default: ~/.area/area.db)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json or text")
	pf.String("redis-url", "", "redis URL; enables the distributed lease and webhook queue")

	root.AddCommand(
		newServeCmd(c),
		newTickCmd(c),
		newSeedCmd(c),
		newMigrateCmd(c),
		newMCPCmd(c),
		newTypesCmd(c),
		newVersionCmd(),
	)
	return root
}

// load builds the configuration and logger for the running command.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(c.sources)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.level.Set(logging.ParseLevel(cfg.LogLevel))
	c.logger = logging.NewLogger(cmd.ErrOrStderr(), c.level, cfg.LogFormat)
	return nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db-path":       "db_path",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"redis-url":     "redis_url",
	"listen-addr":   "listen_addr",
	"tick-interval": "tick_interval",
	"pool-size":     "pool_size",
}

// applyFlags overlays the flags set on the command line onto cfg.
func applyFlags(cmd *cobra.Command, cfg *Config) error {
	raw := map[string]any{}
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		raw[key] = f.Value.String()
	}
	return decodeConfig(raw, cfg)
}
