package reactions

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

// Registry is the thread-safe lookup from ReactionTypeId to Executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	validator ParamValidator
}

// NewRegistry creates an empty Registry. validator may be nil to skip
// schema checks in Execute.
func NewRegistry(validator ParamValidator) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		validator: validator,
	}
}

// Register adds an executor. Returns error on duplicate name.
func (r *Registry) Register(ex Executor) error {
	if ex == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	name := ex.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "reaction type %q already registered", name)
	}
	r.executors[name] = ex
	return nil
}

// Get retrieves an executor by reaction type.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownReactionType, "reaction type %q not registered", name)
	}
	return ex, nil
}

// Has checks if a reaction type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// ParamsSchema returns the parameter schema of a registered type.
func (r *Registry) ParamsSchema(name string) json.RawMessage {
	ex, err := r.Get(name)
	if err != nil {
		return nil
	}
	return ex.Schema().ParamsSchema
}

// List returns info for all registered executors, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for _, ex := range r.executors {
		infos = append(infos, Info{Name: ex.Name(), Description: ex.Schema().Description})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Execute looks up the executor for the reaction type, validates the
// interpolated parameters against its schema and runs it. A schema violation
// is a VALIDATION_ERROR and the executor is not invoked.
func (r *Registry) Execute(ctx context.Context, reactionType string, in Invocation) error {
	ex, err := r.Get(reactionType)
	if err != nil {
		return err
	}

	if r.validator != nil {
		if err := r.validator.ValidateParams(in.Params, ex.Schema().ParamsSchema); err != nil {
			msg := err.Error()
			var details map[string]any
			if areaErr, ok := err.(*schema.AreaError); ok {
				msg = areaErr.Message
				details = areaErr.Details
			}
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid parameters: %s", reactionType, msg).
				WithCause(err).
				WithDetails(details)
		}
	}

	return ex.Execute(ctx, in)
}
