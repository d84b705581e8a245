package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/area/pkg/schema"
)

// Names bound in an HTTP_POLL condition.
const (
	PollValue    = "value"
	PollPrevious = "previous"
)

// ExprEngine runs HTTP_POLL conditions such as
// `previous != nil && value > previous * 1.1`. Conditions are compiled once
// against the poll environment: a name other than value or previous, or a
// result that cannot be a boolean, is rejected before the first poll.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

func (e *ExprEngine) Name() string { return "expr" }

// CompileCondition type-checks a condition without running it.
func (e *ExprEngine) CompileCondition(condition string) error {
	_, err := e.program(condition)
	return err
}

// Condition reports whether condition holds for the polled value and the
// value recorded by the previous poll.
func (e *ExprEngine) Condition(_ context.Context, condition string, value, previous any) (bool, error) {
	prg, err := e.program(condition)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, pollEnv(value, previous))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution, "condition %q failed: %s", condition, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": condition})
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q must produce a boolean, got %T", condition, out).
			WithDetails(map[string]any{"expression": condition})
	}
	return b, nil
}

// Evaluate satisfies Engine. Only the value and previous keys of data are
// visible to the condition.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.Condition(ctx, expression, data[PollValue], data[PollPrevious])
}

func (e *ExprEngine) program(condition string) (*vm.Program, error) {
	if condition == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty condition")
	}

	e.mu.RLock()
	prg, ok := e.cache[condition]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := expr.Compile(condition, expr.Env(pollEnv(nil, nil)), expr.AsBool())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("condition %q: %s", condition, err.Error())).
			WithCause(err).
			WithDetails(map[string]any{"expression": condition})
	}

	e.mu.Lock()
	e.cache[condition] = prg
	e.mu.Unlock()
	return prg, nil
}

func pollEnv(value, previous any) map[string]any {
	return map[string]any{PollValue: value, PollPrevious: previous}
}

var _ Engine = (*ExprEngine)(nil)
