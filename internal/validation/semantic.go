package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/area/pkg/schema"
)

// validateSemantic checks what the structural schema cannot: action and
// reaction types are registered, action parameters satisfy the type's
// parameter schema, and reaction templates are well formed.
func validateSemantic(area *schema.Area, actions, reactions TypeLookup, params *JSONSchemaValidator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if actions != nil {
		if !actions.Has(area.Action.Name) {
			result.AddError(schema.ActionPath("name"), schema.ErrCodeUnknownActionType,
				fmt.Sprintf("action type %q not registered", area.Action.Name))
		} else if s := actions.ParamsSchema(area.Action.Name); len(s) > 0 && params != nil {
			if err := params.ValidateParams(area.Action.Parameters, s); err != nil {
				result.AddError(schema.ActionPath("parameters"), schema.ErrCodeInvalidActionConfig, errMessage(err))
			}
		}
	}

	if len(area.Action.Parameters) > 0 {
		walkStrings(area.Action.Parameters, schema.ActionPath("parameters"), func(path, s string) {
			if strings.Contains(s, "{{") {
				result.AddWarning(path, schema.ErrCodeValidation,
					"action parameters are never interpolated; placeholder kept verbatim")
			}
		})
	}

	for i, r := range area.Reactions {
		if reactions != nil && !reactions.Has(r.Name) {
			result.AddError(schema.ReactionPath(i, "name"), schema.ErrCodeUnknownReactionType,
				fmt.Sprintf("reaction type %q not registered", r.Name))
		}
		walkStrings(r.Parameters, schema.ReactionPath(i, "parameters"), func(p, s string) {
			if strings.Count(s, "{{") != strings.Count(s, "}}") {
				result.AddWarning(p, schema.ErrCodeInterpolation,
					"unbalanced placeholder braces; unmatched tokens are kept verbatim")
			}
		})
	}

	return result
}

// walkStrings calls fn for every string leaf of v with its dotted path.
func walkStrings(v any, path string, fn func(path, s string)) {
	switch val := v.(type) {
	case string:
		fn(path, val)
	case map[string]any:
		for k, item := range val {
			walkStrings(item, path+"."+k, fn)
		}
	case []any:
		for i, item := range val {
			walkStrings(item, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}

func errMessage(err error) string {
	if areaErr, ok := err.(*schema.AreaError); ok {
		return areaErr.Message
	}
	return err.Error()
}
