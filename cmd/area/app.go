package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rendis/area/internal/auth"
	"github.com/rendis/area/internal/lease"
	"github.com/rendis/area/internal/metrics"
	"github.com/rendis/area/internal/queue"
	"github.com/rendis/area/internal/reactions"
	"github.com/rendis/area/internal/scheduler"
	"github.com/rendis/area/internal/secrets"
	"github.com/rendis/area/internal/server"
	"github.com/rendis/area/internal/store"
	"github.com/rendis/area/internal/streaming"
	"github.com/rendis/area/internal/telemetry"
	"github.com/rendis/area/internal/triggers"
	"github.com/rendis/area/internal/validation"
)

// runtime holds the wired collaborators of one process.
type runtime struct {
	cfg    Config
	logger *slog.Logger

	store     *store.LibSQLStore
	redis     *redis.Client
	queue     queue.Queue
	locker    lease.Locker
	tokens    *auth.VaultTokenSource
	validator *validation.AreaValidator
	triggers  *triggers.Registry
	reactions *reactions.Registry
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	events    *streaming.MemoryHub
	scheduler *scheduler.Scheduler

	shutdownTelemetry telemetry.Shutdown
}

// openRuntime opens the store, migrates it and wires every component the
// commands need. The caller must Close the runtime.
func openRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return rt, fmt.Errorf("timezone: %w", err)
	}

	if rt.store, err = openStore(cfg.DBPath); err != nil {
		return rt, err
	}
	if err := rt.store.Migrate(ctx); err != nil {
		return rt, fmt.Errorf("migrate: %w", err)
	}

	rt.queue = queue.NewMemoryQueue(queue.DefaultCapacity)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return rt, fmt.Errorf("redis_url: %w", err)
		}
		rt.redis = redis.NewClient(opts)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			return rt, fmt.Errorf("redis ping: %w", err)
		}
		rt.queue = queue.NewRedisQueue(rt.redis, cfg.RedisPrefix)
		rt.locker = lease.NewRedisLocker(rt.redis, cfg.RedisPrefix, cfg.LeaseTTL, logger)
		logger.Info("redis enabled", slog.String("addr", opts.Addr))
	}

	if cfg.VaultPassphrase != "" {
		vault, err := secrets.NewAESVault(rt.store, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			return rt, fmt.Errorf("vault: %w", err)
		}
		rt.tokens = auth.NewVaultTokenSource(vault)
	}

	params, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return rt, err
	}

	rt.triggers = triggers.NewRegistry(params)
	if err := triggers.RegisterBuiltins(rt.triggers, triggers.BuiltinConfig{
		Queue:    rt.queue,
		Location: loc,
		Logger:   logger,
	}); err != nil {
		return rt, fmt.Errorf("register triggers: %w", err)
	}

	rt.reactions = reactions.NewRegistry(params)
	bcfg := reactions.BuiltinConfig{
		Logger: logger,
		MCP:    reactions.MCPConfig{ClientName: cfg.ServiceName, ClientVersion: version},
	}
	if rt.tokens != nil {
		bcfg.Tokens = rt.tokens
	}
	if err := reactions.RegisterBuiltins(rt.reactions, bcfg); err != nil {
		return rt, fmt.Errorf("register reactions: %w", err)
	}

	if rt.validator, err = validation.NewAreaValidator(rt.triggers, rt.reactions); err != nil {
		return rt, err
	}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if rt.metrics, err = metrics.New(rt.registry); err != nil {
		return rt, err
	}

	if rt.shutdownTelemetry, err = telemetry.Init(ctx, cfg.OtelEndpoint, cfg.ServiceName, version, cfg.OtelInsecure); err != nil {
		return rt, fmt.Errorf("telemetry: %w", err)
	}

	rt.events = streaming.NewMemoryHub()

	sc := scheduler.DefaultConfig()
	sc.TickInterval = cfg.TickInterval
	sc.PoolSize = cfg.PoolSize
	sc.ReactionTimeout = cfg.ReactionTimeout
	sc.FailureThreshold = cfg.FailureThreshold

	rt.scheduler, err = scheduler.New(scheduler.Deps{
		Ledger:    rt.store,
		Triggers:  rt.triggers,
		Reactions: rt.reactions,
		Locker:    rt.locker,
		Clock:     scheduler.SystemClock,
		Logger:    logger,
		Metrics:   rt.metrics,
		Tracer:    telemetry.Tracer("github.com/rendis/area/internal/scheduler"),
		Events:    rt.events,
	}, sc)
	if err != nil {
		return rt, err
	}
	return rt, nil
}

// newServer builds the HTTP surface over the runtime.
func (rt *runtime) newServer() (*server.Server, error) {
	checks := map[string]server.HealthCheck{
		"store": func(ctx context.Context) error { return rt.store.DB().PingContext(ctx) },
	}
	if rt.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }
	}
	return server.New(server.Deps{
		Areas:    rt.store,
		Queue:    rt.queue,
		Gatherer: rt.registry,
		Checks:   checks,
		Events:   rt.events,
		Logger:   rt.logger,
	})
}

// Close releases everything openRuntime acquired. Safe on a partially
// opened runtime.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.shutdownTelemetry != nil {
		errs = append(errs, rt.shutdownTelemetry(ctx))
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the libSQL database at path, creating its directory.
func openStore(path string) (*store.LibSQLStore, error) {
	path = strings.TrimPrefix(path, "file:")
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
