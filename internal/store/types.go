package store

import (
	"time"

	"github.com/rendis/area/pkg/schema"
)

// User owns areas and linked accounts.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AreaFilter narrows ListAreas.
type AreaFilter struct {
	UserID string
	Active *bool
	Limit  int
	Offset int
}

// AreaExecutionUpdate is the single atomic ledger write the scheduler
// performs per area per tick. It is applied only when the stored revision
// still equals ExpectedRevision.
type AreaExecutionUpdate struct {
	// State replaces the action state; nil keeps the stored state.
	State map[string]any
	// LastExecutedAt is set when the action fired; nil keeps the stored value.
	LastExecutedAt *time.Time
	// ErrorLog is written as-is; nil clears it.
	ErrorLog            *string
	ConsecutiveFailures int
	PausedConfigHash    string
	ExpectedRevision    int64
	// Record is appended to the execution history in the same transaction.
	Record *ExecutionRecord
}

// AreaConfigUpdate changes the user-editable part of an area. Nil fields
// are left untouched. Changing the action type resets its state.
type AreaConfigUpdate struct {
	Name             *string
	ActionName       *string
	ActionParameters map[string]any
	Reactions        []schema.Reaction
}

// ExecutionRecord is one row of an area's execution history.
type ExecutionRecord struct {
	ID         string                   `json:"id"`
	AreaID     string                   `json:"area_id"`
	Status     schema.ExecutionStatus   `json:"status"`
	Fired      bool                     `json:"fired"`
	ErrorLog   string                   `json:"error_log,omitempty"`
	Reactions  []schema.ReactionOutcome `json:"reactions,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	DurationMs int64                    `json:"duration_ms"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	AreaID string
	Status schema.ExecutionStatus
	Since  *time.Time
	Limit  int
}
