package validation

import (
	"encoding/json"

	"github.com/rendis/area/pkg/schema"
)

// Validator checks area definitions before they are stored and parameter
// maps before they reach an evaluator or executor.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateDefinition(area *schema.Area) error
	ValidateParams(params map[string]any, paramsSchema []byte) error
}

// TypeLookup resolves an action or reaction type identifier against a
// registry. ParamsSchema returns nil when the type declares no schema.
type TypeLookup interface {
	Has(name string) bool
	ParamsSchema(name string) json.RawMessage
}
