// Package scheduler drives Areas: every tick it asks each active Area's
// trigger whether to fire, runs the bound reactions in order and commits
// the outcome to the ledger in one write.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/area/internal/engine"
	"github.com/rendis/area/internal/expressions"
	"github.com/rendis/area/internal/lease"
	"github.com/rendis/area/internal/logging"
	"github.com/rendis/area/internal/metrics"
	"github.com/rendis/area/internal/reactions"
	"github.com/rendis/area/internal/store"
	"github.com/rendis/area/internal/streaming"
	"github.com/rendis/area/internal/telemetry"
	"github.com/rendis/area/internal/triggers"
	"github.com/rendis/area/pkg/schema"
)

// Ledger is the persistence contract the scheduler depends on.
// store.Store satisfies it.
type Ledger interface {
	ListActiveAreas(ctx context.Context) ([]*schema.Area, error)
	GetArea(ctx context.Context, id string) (*schema.Area, error)
	UpdateAreaExecution(ctx context.Context, id string, update store.AreaExecutionUpdate) error
}

// TriggerEvaluator resolves an action type and evaluates it.
// *triggers.Registry satisfies it.
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, actionType string, in triggers.Evaluation) (*triggers.Decision, error)
}

// ReactionRunner resolves a reaction type and executes it.
// *reactions.Registry satisfies it.
type ReactionRunner interface {
	Execute(ctx context.Context, reactionType string, in reactions.Invocation) error
}

// Config tunes the scheduler.
type Config struct {
	// TickInterval is the loop period. Must be finer than the smallest timer interval.
	TickInterval time.Duration
	// PoolSize bounds how many Areas are processed concurrently.
	PoolSize int
	// ReactionTimeout caps a single reaction execution.
	ReactionTimeout time.Duration
	// FailureThreshold is the transient-failure streak after which failures reach error_log.
	FailureThreshold int
	// Breaker configures the circuit breakers guarding each reaction target.
	Breaker engine.CircuitBreakerConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Second,
		PoolSize:         10,
		ReactionTimeout:  5 * time.Second,
		FailureThreshold: 3,
		Breaker:          engine.DefaultCircuitBreakerConfig(),
	}
}

// Deps are the scheduler's collaborators. Ledger, Triggers and Reactions are
// required; the rest default when nil.
type Deps struct {
	Ledger    Ledger
	Triggers  TriggerEvaluator
	Reactions ReactionRunner
	// Locker is an optional distributed lease, chained after the in-process one.
	Locker  lease.Locker
	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	// Events receives every result that is neither idle nor skipped.
	Events streaming.Hub
}

// Scheduler runs ticks over the active Areas.
type Scheduler struct {
	ledger    Ledger
	triggers  TriggerEvaluator
	reactions ReactionRunner
	local     *lease.LocalLocker
	locker    lease.Locker
	breakers  *engine.CircuitBreakerRegistry
	pool      *engine.WorkerPool
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	events    streaming.Hub
	cfg       Config

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a Scheduler. Zero config values fall back to DefaultConfig.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Ledger == nil || deps.Triggers == nil || deps.Reactions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a ledger, a trigger registry and a reaction registry")
	}

	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.ReactionTimeout <= 0 {
		cfg.ReactionTimeout = def.ReactionTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer("github.com/rendis/area/internal/scheduler")
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker.Cooldown = def.Breaker.Cooldown
	}
	if cfg.Breaker.HalfOpenMax <= 0 {
		cfg.Breaker.HalfOpenMax = def.Breaker.HalfOpenMax
	}
	if cfg.Breaker.Now == nil {
		cfg.Breaker.Now = deps.Clock.Now
	}

	local := lease.NewLocalLocker()
	return &Scheduler{
		ledger:    deps.Ledger,
		triggers:  deps.Triggers,
		reactions: deps.Reactions,
		local:     local,
		locker:    lease.Chain(local, deps.Locker),
		breakers:  engine.NewCircuitBreakerRegistry(cfg.Breaker),
		pool:      engine.NewWorkerPool(cfg.PoolSize, deps.Logger),
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		events:    deps.Events,
		cfg:       cfg,
	}, nil
}

// Start launches the background loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("pool_size", s.cfg.PoolSize),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick detaches the tick from loop cancellation so Stop drains the
// in-flight reactions instead of aborting them mid-write.
func (s *Scheduler) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("tick failed", slog.String("error", err.Error()))
	}
}

// Stop signals the loop to exit and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs a single tick at the clock's current time.
func (s *Scheduler) RunOnce(ctx context.Context) ([]schema.ExecutionResult, error) {
	return s.Tick(ctx, s.clock.Now())
}

// Tick evaluates every active Area at now. Areas run concurrently on the
// worker pool; each Area's reactions run sequentially in declared order.
//
// Per-Area failures are reported in the results and the ledger, never as the
// returned error. The error is reserved for faults that abort the tick: the
// store being unreachable, or a panic inside an evaluator or executor
// (TICK_ABORTED; the other Areas still complete).
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]schema.ExecutionResult, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.String("tick.now", now.Format(time.RFC3339Nano))))
	defer span.End()

	areas, err := s.ledger.ListActiveAreas(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, schema.NewError(schema.ErrCodeStore, "list active areas").WithCause(err)
	}
	span.SetAttributes(attribute.Int("tick.areas", len(areas)))

	var (
		results = make([]schema.ExecutionResult, len(areas))
		aborted []string
		abortMu sync.Mutex
		wg      sync.WaitGroup
	)

	for i, area := range areas {
		if !area.IsActive {
			results[i] = schema.ExecutionResult{AreaID: area.ID, Status: schema.ExecutionSkipped, StartedAt: now}
			continue
		}

		wg.Add(1)
		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			res, abort := s.processArea(ctx, area, now)
			results[i] = res
			s.metrics.ObserveResult(area.Action.Name, res)
			s.publish(ctx, area.Action.Name, res)
			if abort {
				abortMu.Lock()
				aborted = append(aborted, area.ID)
				abortMu.Unlock()
			}
			return nil
		})
		if err != nil {
			wg.Done()
			results[i] = schema.ExecutionResult{
				AreaID:    area.ID,
				Status:    schema.ExecutionSkipped,
				Err:       engine.Classify(err).WithArea(area.ID),
				StartedAt: now,
			}
		}
	}
	wg.Wait()

	s.metrics.ObserveTick(time.Since(started))

	if len(aborted) > 0 {
		abortErr := schema.NewErrorf(schema.ErrCodeTickAborted,
			"tick aborted: unexpected fault in %d area(s)", len(aborted)).
			WithDetails(map[string]any{"area_ids": aborted})
		span.SetStatus(codes.Error, abortErr.Error())
		return results, abortErr
	}
	return results, nil
}

// publish reports a settled result to live subscribers.
func (s *Scheduler) publish(ctx context.Context, action string, res schema.ExecutionResult) {
	if s.events == nil || res.Status == schema.ExecutionIdle || res.Status == schema.ExecutionSkipped {
		return
	}
	err := s.events.Publish(ctx, streaming.Event{
		AreaID: res.AreaID,
		Action: action,
		Status: res.Status,
		Result: res,
		At:     s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("publish execution event",
			slog.String("area_id", res.AreaID),
			slog.String("error", err.Error()),
		)
	}
}

// processArea runs one Area through lease, pause check, evaluation,
// reactions and the ledger commit. abort is true when an evaluator or
// executor panicked; nothing is written for the Area in that case.
func (s *Scheduler) processArea(ctx context.Context, area *schema.Area, now time.Time) (res schema.ExecutionResult, abort bool) {
	started := time.Now()
	res = schema.ExecutionResult{AreaID: area.ID, StartedAt: now}
	defer func() { res.Duration = time.Since(started) }()

	ctx = logging.WithIDs(ctx, area.ID, area.Action.Name)
	ctx, span := s.tracer.Start(ctx, "scheduler.area",
		trace.WithAttributes(
			attribute.String("area.id", area.ID),
			attribute.String("area.action", area.Action.Name),
		))
	defer func() {
		span.SetAttributes(attribute.String("area.status", string(res.Status)))
		if res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	held, ok, err := s.locker.TryAcquire(ctx, area.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "area lease unavailable", slog.String("error", err.Error()))
		res.Status = schema.ExecutionSkipped
		res.Err = schema.NewError(schema.ErrCodeUpstreamUnavailable, "area lease unavailable").WithCause(err).WithArea(area.ID)
		return res, false
	}
	if !ok {
		s.logger.DebugContext(ctx, "area already in flight")
		res.Status = schema.ExecutionSkipped
		return res, false
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "area lease release failed", slog.String("error", err.Error()))
		}
	}()

	// Re-read under the lease: the listing may predate another worker's commit.
	fresh, err := s.ledger.GetArea(ctx, area.ID)
	if err != nil {
		areaErr := engine.Classify(err)
		if areaErr.Code == schema.ErrCodeNotFound {
			res.Status = schema.ExecutionSkipped
			return res, false
		}
		s.logger.ErrorContext(ctx, "area reload failed", slog.String("error", err.Error()))
		res.Status = schema.ExecutionFailed
		res.Err = schema.NewError(schema.ErrCodeStore, "area reload failed").WithCause(err).WithArea(area.ID)
		return res, false
	}
	area = fresh
	if !area.IsActive {
		res.Status = schema.ExecutionSkipped
		return res, false
	}

	if area.Paused() {
		res.Status = schema.ExecutionPaused
		return res, false
	}

	var decision *triggers.Decision
	evalErr := engine.RunGuarded(func() error {
		var err error
		decision, err = s.triggers.Evaluate(ctx, area.Action.Name, triggers.Evaluation{
			AreaID:     area.ID,
			Parameters: area.Action.Parameters,
			State:      area.Action.State,
			Now:        now,
		})
		return err
	})
	if evalErr == nil && decision == nil {
		evalErr = schema.NewErrorf(schema.ErrCodeExecution, "evaluator for %s returned no decision", area.Action.Name)
	}
	if evalErr != nil {
		var panicErr *engine.PanicError
		if errors.As(evalErr, &panicErr) {
			return s.abort(ctx, res, "evaluator", panicErr), true
		}
		return s.evaluationFailed(ctx, area, now, started, res, engine.Classify(evalErr)), false
	}

	if !decision.Fire {
		return s.idle(ctx, area, res, decision), false
	}
	return s.fire(ctx, area, now, started, res, decision)
}

func (s *Scheduler) abort(ctx context.Context, res schema.ExecutionResult, where string, p *engine.PanicError) schema.ExecutionResult {
	s.logger.ErrorContext(ctx, "unexpected fault, area left untouched",
		slog.String("in", where),
		slog.String("panic", fmt.Sprint(p.Value)),
		slog.String("stack", string(p.Stack)),
	)
	res.Status = schema.ExecutionFailed
	res.Err = schema.NewErrorf(schema.ErrCodeTickAborted, "%s panicked: %v", where, p.Value).
		WithCause(p).
		WithArea(res.AreaID)
	return res
}

// evaluationFailed records a trigger failure. Configuration errors pause
// the area until its configuration changes.
func (s *Scheduler) evaluationFailed(ctx context.Context, area *schema.Area, now, started time.Time, res schema.ExecutionResult, areaErr *schema.AreaError) schema.ExecutionResult {
	areaErr.WithArea(area.ID)
	res.Status = schema.ExecutionFailed
	res.Err = areaErr

	outcome := applyErrorPolicy(area, []failure{{source: actionSource(area.Action.Name), err: areaErr}},
		s.cfg.FailureThreshold, false)

	pausedHash := ""
	if areaErr.Code == schema.ErrCodeInvalidActionConfig {
		pausedHash = area.ConfigHash()
	}

	level := slog.LevelWarn
	if areaErr.IsTransient() && outcome.streak < s.cfg.FailureThreshold {
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, "action evaluation failed",
		slog.String("code", areaErr.Code),
		slog.String("error", areaErr.Message),
		slog.Int("consecutive_failures", outcome.streak),
	)

	if outcome.errorLog != nil {
		res.ErrorLog = *outcome.errorLog
	}

	logChanged := !sameLog(outcome.errorLog, area.ErrorLog)
	if !logChanged && outcome.streak == area.ConsecutiveFailures && pausedHash == area.PausedConfigHash {
		return res
	}

	update := store.AreaExecutionUpdate{
		ErrorLog:            outcome.errorLog,
		ConsecutiveFailures: outcome.streak,
		PausedConfigHash:    pausedHash,
		ExpectedRevision:    area.Revision,
	}
	if logChanged {
		update.Record = newRecord(res, now, started)
	}
	return s.commit(ctx, area, res, update)
}

// idle persists the evaluator's new state when the action did not fire.
// A clean evaluation ends any transient streak and lifts a stale pause
// together with the error that caused it.
func (s *Scheduler) idle(ctx context.Context, area *schema.Area, res schema.ExecutionResult, decision *triggers.Decision) schema.ExecutionResult {
	res.Status = schema.ExecutionIdle
	errorLog := area.ErrorLog
	if area.PausedConfigHash != "" {
		errorLog = nil
	}
	if errorLog != nil {
		res.ErrorLog = *errorLog
	}

	if decision.State == nil && area.ConsecutiveFailures == 0 && area.PausedConfigHash == "" {
		return res
	}

	return s.commit(ctx, area, res, store.AreaExecutionUpdate{
		State:            decision.State,
		ErrorLog:         errorLog,
		ExpectedRevision: area.Revision,
	})
}

// fire runs every reaction in declared order. A failing reaction never
// stops the ones after it.
func (s *Scheduler) fire(ctx context.Context, area *schema.Area, now, started time.Time, res schema.ExecutionResult, decision *triggers.Decision) (schema.ExecutionResult, bool) {
	res.Fired = true
	execCtx := expressions.NewExecutionContext(area, decision.Context)

	s.logger.InfoContext(ctx, "action fired", slog.Int("reactions", len(area.Reactions)))

	var failures []failure
	for i, r := range area.Reactions {
		outcome, panicErr := s.runReaction(ctx, area, i, r, execCtx)
		if panicErr != nil {
			return s.abort(logging.WithReaction(ctx, r.Name), res, "reaction "+r.Name, panicErr), true
		}
		res.Reactions = append(res.Reactions, outcome)
		if outcome.Err != nil {
			failures = append(failures, failure{source: reactionSource(i, r.Name), err: outcome.Err})
		}
	}

	ledger := applyErrorPolicy(area, failures, s.cfg.FailureThreshold, true)
	if len(failures) > 0 {
		res.Status = schema.ExecutionFailed
	} else {
		res.Status = schema.ExecutionFired
	}
	if ledger.errorLog != nil {
		res.ErrorLog = *ledger.errorLog
	}

	executedAt := now
	return s.commitFired(ctx, area, res, store.AreaExecutionUpdate{
		State:               decision.State,
		LastExecutedAt:      &executedAt,
		ErrorLog:            ledger.errorLog,
		ConsecutiveFailures: ledger.streak,
		ExpectedRevision:    area.Revision,
		Record:              newRecord(res, now, started),
	}), false
}

// runReaction interpolates and executes one reaction under the per-reaction
// timeout. The timeout holds even when the executor ignores its context:
// the call runs in its own goroutine and is abandoned once the deadline passes.
func (s *Scheduler) runReaction(ctx context.Context, area *schema.Area, index int, r schema.Reaction, execCtx expressions.ExecutionContext) (schema.ReactionOutcome, *engine.PanicError) {
	ctx = logging.WithReaction(ctx, r.Name)
	outcome := schema.ReactionOutcome{Index: index, Name: r.Name}

	params := execCtx.Resolve(r.Parameters)
	circuit := breakerKey(area.ID, r.Name, params)

	if err := s.breakers.AllowRequest(circuit); err != nil {
		outcome.Status = schema.ReactionSkipped
		outcome.Err = engine.Classify(err).WithArea(area.ID)
		s.logger.DebugContext(ctx, "reaction skipped, circuit open", slog.String("circuit", circuit))
		return outcome, nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReactionTimeout)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- engine.RunGuarded(func() error {
			return s.reactions.Execute(rctx, r.Name, reactions.Invocation{
				AreaID: area.ID,
				UserID: area.UserID,
				Params: params,
			})
		})
	}()

	var err error
	select {
	case err = <-done:
	case <-rctx.Done():
		err = schema.NewErrorf(schema.ErrCodeTimeout, "%s did not finish within %s", r.Name, s.cfg.ReactionTimeout).
			WithCause(rctx.Err())
	}
	outcome.Duration = time.Since(started)

	var panicErr *engine.PanicError
	if errors.As(err, &panicErr) {
		return outcome, panicErr
	}

	s.breakers.Record(circuit, err)

	if err == nil {
		outcome.Status = schema.ReactionSucceeded
		s.logger.DebugContext(ctx, "reaction succeeded", slog.Duration("duration", outcome.Duration))
		return outcome, nil
	}

	outcome.Err = engine.Classify(err).WithArea(area.ID)
	if outcome.Err.Code == schema.ErrCodeTimeout {
		outcome.Status = schema.ReactionTimedOut
	} else {
		outcome.Status = schema.ReactionFailed
	}
	s.logger.WarnContext(ctx, "reaction failed",
		slog.Int("index", index),
		slog.String("code", outcome.Err.Code),
		slog.String("error", outcome.Err.Message),
		slog.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

// breakerKey scopes a circuit to the remote a reaction talks to: the host of
// its resolved url or server_url, or the area itself when it names none.
// Areas pointing the same reaction type at different endpoints never trip
// each other's circuit.
func breakerKey(areaID, reaction string, params map[string]any) string {
	for _, field := range []string{"url", "server_url"} {
		raw, ok := params[field].(string)
		if !ok {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return reaction + "@" + u.Host
		}
	}
	return reaction + "#" + areaID
}

// commitFired commits a fired tick whose reactions already ran. On a revision
// conflict the area is re-read and the write retried once against the new
// revision. Evaluator state is kept only while the action type is unchanged.
// A deleted area discards the outcome.
func (s *Scheduler) commitFired(ctx context.Context, area *schema.Area, res schema.ExecutionResult, update store.AreaExecutionUpdate) schema.ExecutionResult {
	err := s.ledger.UpdateAreaExecution(ctx, area.ID, update)
	if err == nil {
		return res
	}
	if !schema.IsCode(err, schema.ErrCodeConflict) {
		return s.failCommit(ctx, area, res, err)
	}

	fresh, getErr := s.ledger.GetArea(ctx, area.ID)
	if getErr != nil {
		return s.failCommit(ctx, area, res, getErr)
	}
	if fresh.Action.Name != area.Action.Name {
		update.State = nil
	}
	update.ExpectedRevision = fresh.Revision
	s.logger.DebugContext(ctx, "area edited while firing, committing against new revision",
		slog.Int64("revision", fresh.Revision))
	return s.commit(ctx, fresh, res, update)
}

// commit writes the area's ledger. A revision conflict means the area changed
// under the tick; nothing is written and the result reports CONFLICT.
func (s *Scheduler) commit(ctx context.Context, area *schema.Area, res schema.ExecutionResult, update store.AreaExecutionUpdate) schema.ExecutionResult {
	err := s.ledger.UpdateAreaExecution(ctx, area.ID, update)
	if err == nil {
		return res
	}
	return s.failCommit(ctx, area, res, err)
}

func (s *Scheduler) failCommit(ctx context.Context, area *schema.Area, res schema.ExecutionResult, err error) schema.ExecutionResult {
	areaErr := engine.Classify(err)
	switch areaErr.Code {
	case schema.ErrCodeConflict, schema.ErrCodeNotFound:
		s.logger.WarnContext(ctx, "area changed during tick, outcome discarded", slog.String("error", areaErr.Message))
	default:
		s.logger.ErrorContext(ctx, "ledger write failed", slog.String("error", err.Error()))
		if areaErr.Code == schema.ErrCodeExecution {
			areaErr = schema.NewError(schema.ErrCodeStore, "ledger write failed").WithCause(err)
		}
	}
	res.Status = schema.ExecutionFailed
	res.Err = areaErr.WithArea(area.ID)
	return res
}

func newRecord(res schema.ExecutionResult, now, started time.Time) *store.ExecutionRecord {
	return &store.ExecutionRecord{
		AreaID:     res.AreaID,
		Status:     res.Status,
		Fired:      res.Fired,
		ErrorLog:   res.ErrorLog,
		Reactions:  res.Reactions,
		StartedAt:  now,
		DurationMs: time.Since(started).Milliseconds(),
	}
}
