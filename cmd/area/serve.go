package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/area/internal/logging"
	"github.com/rendis/area/internal/store"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop and the HTTP server",
		Long: `Runs the scheduler loop and serves webhooks, health and metrics until
SIGINT or SIGTERM. In-flight areas drain before exit. SIGHUP reloads
the configuration; only log_level is applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	f := cmd.Flags()
	f.String("listen-addr", "", "HTTP listen address")
	f.Duration("tick-interval", 0, "scheduler tick interval")
	f.Int("pool-size", 0, "number of areas processed concurrently")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	rt, err := openRuntime(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	srv, err := rt.newServer()
	if err != nil {
		return err
	}

	if err := rt.scheduler.Start(ctx); err != nil {
		return err
	}

	go c.watchReload(ctx)
	if c.cfg.HistoryRetention > 0 {
		go pruneLoop(ctx, rt.store, c.cfg.HistoryRetention, time.Hour, c.logger)
	}

	serveErr := srv.ListenAndServe(ctx, c.cfg.ListenAddr, shutdownGrace)

	c.logger.Info("draining scheduler")
	if err := rt.scheduler.Stop(); err != nil {
		c.logger.Error("scheduler stop", slog.String("error", err.Error()))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	c.logger.Info("stopped")
	return nil
}

// watchReload re-reads the configuration on SIGHUP.
func (c *cli) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			c.reload()
		}
	}
}

func (c *cli) reload() {
	next, err := loadConfig(c.sources)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		c.logger.Error("config reload rejected", slog.String("error", err.Error()))
		return
	}

	d := diffConfigs(c.cfg, next)
	if d.LogLevelChanged {
		c.level.Set(logging.ParseLevel(next.LogLevel))
		c.cfg.LogLevel = next.LogLevel
		c.logger.Info("log level changed", slog.String("log_level", next.LogLevel))
	}
	if len(d.RestartNeeded) > 0 {
		c.logger.Warn("config changes need a restart", slog.Any("keys", d.RestartNeeded))
	}
}

// historyPruner is the part of the store the prune loop uses.
type historyPruner interface {
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)
}

var _ historyPruner = (store.Store)(nil)

// pruneLoop deletes execution history older than retention every period.
func pruneLoop(ctx context.Context, s historyPruner, retention, period time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		pruneOnce(ctx, s, retention, time.Now().UTC(), logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneOnce(ctx context.Context, s historyPruner, retention time.Duration, now time.Time, logger *slog.Logger) {
	n, err := s.PruneExecutions(ctx, now.Add(-retention))
	if err != nil {
		logger.Error("prune execution history", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		logger.Info("pruned execution history", slog.Int64("rows", n))
	}
}
