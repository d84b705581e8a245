// Package triggers decides, tick by tick, whether an Area's Action fires.
package triggers

import (
	"context"
	"encoding/json"
	"time"
)

// Evaluator decides whether an Action of one type fires. It owns the
// Action's state blob: the returned Decision.State replaces the stored state.
//
// Evaluators return *schema.AreaError for expected failures:
// INVALID_ACTION_CONFIG for bad parameters or state, UPSTREAM_UNAVAILABLE
// when an external source could not be reached.
type Evaluator interface {
	Name() string
	Schema() Schema
	ShouldFire(ctx context.Context, in Evaluation) (*Decision, error)
}

// Schema describes an Action type's parameter and state contract.
type Schema struct {
	Description  string          `json:"description,omitempty"`
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
	StateSchema  json.RawMessage `json:"state_schema,omitempty"`
}

// Evaluation is the input to ShouldFire.
type Evaluation struct {
	AreaID     string
	Parameters map[string]any
	State      map[string]any
	Now        time.Time
}

// Decision is the result of ShouldFire. State is nil when unchanged.
// Context holds the output fields the Reactions are interpolated against
// and is only meaningful when Fire is true.
type Decision struct {
	Fire    bool           `json:"fire"`
	State   map[string]any `json:"state,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Info is a summary of a registered evaluator for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
