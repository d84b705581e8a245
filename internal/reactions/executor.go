// Package reactions runs the side effects bound to a firing Area.
package reactions

import (
	"context"
	"encoding/json"
)

// Executor performs one Reaction type's side effect with already
// interpolated parameters.
//
// Expected failures are returned as *schema.AreaError: AUTH_EXPIRED and
// AUTH_REVOKED for linked-account problems, UPSTREAM_UNAVAILABLE and TIMEOUT
// for transient remote failures, EXECUTION_ERROR for everything the remote
// rejected. A panic is treated as a fatal fault by the scheduler.
type Executor interface {
	Name() string
	Schema() Schema
	Execute(ctx context.Context, in Invocation) error
}

// Schema describes a Reaction type's parameter contract.
type Schema struct {
	Description  string          `json:"description,omitempty"`
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
}

// Invocation is the input to Execute.
type Invocation struct {
	AreaID string
	UserID string
	Params map[string]any
}

// Info is a summary of a registered executor for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
