package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/area/pkg/schema"
)

const areaSchemaURL = "https://area.dev/schemas/area.json"

// areaSchemaJSON is the JSON Schema for the user-editable part of an Area.
const areaSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://area.dev/schemas/area.json",
  "type": "object",
  "required": ["name", "action", "reactions"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 200
    },
    "user_id": { "type": "string" },
    "is_active": { "type": "boolean" },
    "action": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "$ref": "#/$defs/type_id" },
        "parameters": { "type": "object" },
        "state": { "type": "object" }
      },
      "additionalProperties": false
    },
    "reactions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": { "$ref": "#/$defs/type_id" },
          "parameters": { "type": "object" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "type_id": {
      "type": "string",
      "pattern": "^[A-Z][A-Z0-9_]*$"
    }
  }
}`

// definitionDoc is the shape validated by areaSchemaJSON. Ledger fields and
// identifiers are assigned by the system and never part of a definition.
type definitionDoc struct {
	Name      string            `json:"name"`
	UserID    string            `json:"user_id,omitempty"`
	IsActive  bool              `json:"is_active"`
	Action    schema.Action     `json:"action"`
	Reactions []schema.Reaction `json:"reactions"`
}

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	areaSchema *jsonschema.Schema

	// mu guards the cache of per-type parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the area schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(areaSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal area schema: %w", err)
	}
	if err := c.AddResource(areaSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add area schema resource: %w", err)
	}

	areaSchema, err := c.Compile(areaSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile area schema: %w", err)
	}

	return &JSONSchemaValidator{
		areaSchema: areaSchema,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates the user-editable fields of an Area against
// the area JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(area *schema.Area) error {
	if area == nil {
		return schema.NewError(schema.ErrCodeValidation, "area definition is nil")
	}

	doc, err := toJSONValue(definitionDoc{
		Name:      area.Name,
		UserID:    area.UserID,
		IsActive:  area.IsActive,
		Action:    area.Action,
		Reactions: area.Reactions,
	})
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize area definition").WithCause(err)
	}

	if err := v.areaSchema.Validate(doc); err != nil {
		return toAreaError(err)
	}
	return nil
}

// ValidateParams validates a parameter or state map against a JSON Schema
// provided as raw bytes. A nil map validates as an empty object. The schema
// is compiled once and cached.
func (v *JSONSchemaValidator) ValidateParams(params map[string]any, paramsSchema []byte) error {
	if len(paramsSchema) == 0 {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	compiled, err := v.getOrCompile(paramsSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid parameter schema").WithCause(err)
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize parameters").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toAreaError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("area://params-schema/%d", len(v.cache))

	// Fresh compiler per schema so resource URLs never collide.
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAreaError converts a jsonschema.ValidationError into an AreaError whose
// details list every leaf violation with its instance location.
func toAreaError(err error) *schema.AreaError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors: %s", len(violations), strings.Join(violations, "; "))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

var _ Validator = (*JSONSchemaValidator)(nil)
