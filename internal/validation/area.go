package validation

import (
	"strings"

	"github.com/rendis/area/pkg/schema"
)

// AreaValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (registered types, action parameter schemas, templates)
type AreaValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    TypeLookup
	reactions  TypeLookup
}

// NewAreaValidator creates an AreaValidator.
// Either lookup may be nil to skip the corresponding registry checks.
func NewAreaValidator(actions, reactions TypeLookup) (*AreaValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &AreaValidator{
		jsonSchema: jsv,
		actions:    actions,
		reactions:  reactions,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (av *AreaValidator) Validate(area *schema.Area) *schema.ValidationResult {
	if area == nil {
		r := &schema.ValidationResult{}
		r.AddError(schema.RootPath, schema.ErrCodeValidation, "area definition is nil")
		return r
	}

	result := validateStructural(av.jsonSchema, area)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(area, av.actions, av.reactions, av.jsonSchema))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (av *AreaValidator) ValidateDefinition(area *schema.Area) error {
	return av.Validate(area).ToError()
}

// ValidateParams delegates to the underlying JSONSchemaValidator.
func (av *AreaValidator) ValidateParams(params map[string]any, paramsSchema []byte) error {
	return av.jsonSchema.ValidateParams(params, paramsSchema)
}

// validateStructural converts JSONSchemaValidator.ValidateDefinition output
// into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, area *schema.Area) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(area)
	if err == nil {
		return result
	}

	areaErr, ok := err.(*schema.AreaError)
	if !ok {
		result.AddError(schema.RootPath, schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := areaErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(violationPath(v))
		}
		return result
	}
	result.AddError(schema.RootPath, schema.ErrCodeValidation, areaErr.Message)
	return result
}

// violationPath splits a "/pointer: message" violation into its issue path
// and message.
func violationPath(v string) (path, code, message string) {
	pointer, msg, ok := strings.Cut(v, ": ")
	if !ok || !strings.HasPrefix(pointer, "/") {
		return schema.RootPath, schema.ErrCodeValidation, v
	}
	return schema.PointerPath(pointer), schema.ErrCodeValidation, msg
}

var _ Validator = (*AreaValidator)(nil)
