package triggers

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rendis/area/pkg/schema"
)

// ParamValidator validates a map against a JSON Schema.
type ParamValidator interface {
	ValidateParams(params map[string]any, paramsSchema []byte) error
}

// Registry is the thread-safe lookup from ActionTypeId to Evaluator.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	validator  ParamValidator
}

// NewRegistry creates an empty Registry. validator may be nil to skip
// schema checks in Evaluate.
func NewRegistry(validator ParamValidator) *Registry {
	return &Registry{
		evaluators: make(map[string]Evaluator),
		validator:  validator,
	}
}

// Register adds an evaluator. Returns error on duplicate name.
func (r *Registry) Register(ev Evaluator) error {
	if ev == nil {
		return schema.NewError(schema.ErrCodeValidation, "evaluator is nil")
	}
	name := ev.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "evaluator name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.evaluators[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action type %q already registered", name)
	}
	r.evaluators[name] = ev
	return nil
}

// Get retrieves an evaluator by action type.
func (r *Registry) Get(name string) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.evaluators[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownActionType, "action type %q not registered", name)
	}
	return ev, nil
}

// Has checks if an action type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.evaluators[name]
	return ok
}

// ParamsSchema returns the parameter schema of a registered type.
func (r *Registry) ParamsSchema(name string) json.RawMessage {
	ev, err := r.Get(name)
	if err != nil {
		return nil
	}
	return ev.Schema().ParamsSchema
}

// List returns info for all registered evaluators, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.evaluators))
	for _, ev := range r.evaluators {
		infos = append(infos, Info{Name: ev.Name(), Description: ev.Schema().Description})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Evaluate looks up the evaluator for the action type, validates parameters and state
// against its schema and calls ShouldFire. Schema violations are reported as
// INVALID_ACTION_CONFIG without invoking the evaluator.
func (r *Registry) Evaluate(ctx context.Context, actionType string, in Evaluation) (*Decision, error) {
	ev, err := r.Get(actionType)
	if err != nil {
		return nil, err
	}

	if r.validator != nil {
		s := ev.Schema()
		if err := r.validator.ValidateParams(in.Parameters, s.ParamsSchema); err != nil {
			return nil, invalidConfig(actionType, "parameters", err)
		}
		if err := r.validator.ValidateParams(in.State, s.StateSchema); err != nil {
			return nil, invalidConfig(actionType, "state", err)
		}
	}

	return ev.ShouldFire(ctx, in)
}

func invalidConfig(actionName, field string, err error) *schema.AreaError {
	msg := err.Error()
	var details map[string]any
	if areaErr, ok := err.(*schema.AreaError); ok {
		msg = areaErr.Message
		details = areaErr.Details
	}
	return schema.NewErrorf(schema.ErrCodeInvalidActionConfig, "%s: invalid %s: %s", actionName, field, msg).
		WithCause(err).
		WithDetails(details)
}
