package triggers

import (
	"log/slog"
	"time"

	"github.com/rendis/area/internal/expressions"
	"github.com/rendis/area/internal/queue"
)

// BuiltinConfig carries the collaborators the built-in evaluators need.
type BuiltinConfig struct {
	Queue    queue.Queue
	CEL      *expressions.CELEngine
	JQ       *expressions.GoJQEngine
	Expr     *expressions.ExprEngine
	Poll     PollConfig
	Location *time.Location
	Logger   *slog.Logger
}

// RegisterBuiltins registers all built-in evaluators in the given registry.
// WEBHOOK_RECEIVED is only registered when a queue is configured.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.JQ == nil {
		cfg.JQ = expressions.NewGoJQEngine()
	}
	if cfg.Expr == nil {
		cfg.Expr = expressions.NewExprEngine()
	}
	if cfg.Poll.Location == nil {
		cfg.Poll.Location = cfg.Location
	}

	all := []Evaluator{
		NewTimerEvaluator(cfg.Location),
		NewCronEvaluator(),
		NewPollEvaluator(cfg.Poll, cfg.JQ, cfg.Expr),
	}

	if cfg.Queue != nil {
		cel := cfg.CEL
		if cel == nil {
			var err error
			if cel, err = expressions.NewCELEngine(); err != nil {
				return err
			}
		}
		all = append(all, NewWebhookEvaluator(cfg.Queue, cel, cfg.Location, cfg.Logger))
	}

	for _, ev := range all {
		if err := reg.Register(ev); err != nil {
			return err
		}
	}
	return nil
}
