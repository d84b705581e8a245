package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Area binds one trigger Action to an ordered list of Reactions.
type Area struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserID   string `json:"user_id"`
	IsActive bool   `json:"is_active"`

	Action    Action     `json:"action"`
	Reactions []Reaction `json:"reactions"`

	// Ledger fields, written only by the scheduler.
	LastExecutedAt      *time.Time `json:"last_executed_at,omitempty"`
	ErrorLog            *string    `json:"error_log,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	PausedConfigHash    string     `json:"paused_config_hash,omitempty"`
	Revision            int64      `json:"revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action is the trigger half of an Area. State belongs to the trigger
// evaluator registered under Name and is never modified elsewhere.
type Action struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	State      map[string]any `json:"state,omitempty"`
}

// Reaction is a side effect run when the Area's Action fires. String
// parameters may hold {{placeholders}} resolved at execution time.
type Reaction struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ConfigHash fingerprints the user-editable configuration of the area:
// the action type, its parameters and the reactions. State and ledger
// fields are excluded. encoding/json sorts map keys, so the hash is stable.
func (a *Area) ConfigHash() string {
	doc := struct {
		Action     string         `json:"action"`
		Parameters map[string]any `json:"parameters"`
		Reactions  []Reaction     `json:"reactions"`
	}{a.Action.Name, a.Action.Parameters, a.Reactions}

	b, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Paused reports whether the area is held back by a configuration error
// recorded against its current configuration.
func (a *Area) Paused() bool {
	return a.PausedConfigHash != "" && a.PausedConfigHash == a.ConfigHash()
}

// ExecutionStatus summarizes what a tick did with one Area.
type ExecutionStatus string

const (
	ExecutionFired   ExecutionStatus = "fired"   // action fired, all reactions succeeded
	ExecutionIdle    ExecutionStatus = "idle"    // action did not fire
	ExecutionSkipped ExecutionStatus = "skipped" // another worker holds the area
	ExecutionPaused  ExecutionStatus = "paused"  // waiting for a configuration change
	ExecutionFailed  ExecutionStatus = "failed"  // evaluation or at least one reaction failed
)

// ReactionStatus is the outcome of a single reaction execution.
type ReactionStatus string

const (
	ReactionSucceeded ReactionStatus = "success"
	ReactionFailed    ReactionStatus = "failed"
	ReactionTimedOut  ReactionStatus = "timeout"
	ReactionSkipped   ReactionStatus = "skipped" // circuit open for the reaction type
)

// ReactionOutcome records the result of running one reaction.
type ReactionOutcome struct {
	Index    int            `json:"index"`
	Name     string         `json:"name"`
	Status   ReactionStatus `json:"status"`
	Err      *AreaError     `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// ExecutionResult is what the scheduler reports for one Area after a tick.
type ExecutionResult struct {
	AreaID    string            `json:"area_id"`
	Status    ExecutionStatus   `json:"status"`
	Fired     bool              `json:"fired"`
	Reactions []ReactionOutcome `json:"reactions,omitempty"`
	ErrorLog  string            `json:"error_log,omitempty"`
	Err       *AreaError        `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}
