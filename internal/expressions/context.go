package expressions

import (
	"encoding/json"

	"github.com/rendis/area/pkg/schema"
)

// ExecutionContext is the data a fired Action hands to its Reactions. It is
// built fresh for every fire event and never persisted.
type ExecutionContext map[string]any

// NewExecutionContext freezes the trigger output (deep copy) and adds the
// area identity under the "area" key. Trigger fields named "area" are
// shadowed by the identity.
func NewExecutionContext(area *schema.Area, fields map[string]any) ExecutionContext {
	ctx := ExecutionContext(deepCopyMap(fields))
	if ctx == nil {
		ctx = ExecutionContext{}
	}
	if area != nil {
		ctx["area"] = map[string]any{
			"id":      area.ID,
			"name":    area.Name,
			"user_id": area.UserID,
		}
	}
	return ctx
}

// Resolve interpolates every string parameter of a reaction against the context.
func (c ExecutionContext) Resolve(params map[string]any) map[string]any {
	return InterpolateParams(params, c)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
