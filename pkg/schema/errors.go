package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeInvalidActionConfig = "INVALID_ACTION_CONFIG"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeAuthExpired         = "AUTH_EXPIRED"
	ErrCodeAuthRevoked         = "AUTH_REVOKED"
	ErrCodeUnknownActionType   = "UNKNOWN_ACTION_TYPE"
	ErrCodeUnknownReactionType = "UNKNOWN_REACTION_TYPE"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeInterpolation       = "INTERPOLATION_ERROR"
	ErrCodeCircuitOpen         = "CIRCUIT_OPEN"
	ErrCodeVault               = "VAULT_ERROR"
	ErrCodeTickAborted         = "TICK_ABORTED"
)

// AreaError is the structured error type shared by evaluators, executors,
// the scheduler and the store.
type AreaError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	AreaID  string         `json:"area_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AreaError) Error() string {
	if e.AreaID != "" {
		return fmt.Sprintf("[%s] area %s: %s", e.Code, e.AreaID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AreaError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AreaError.
func NewError(code, message string) *AreaError {
	return &AreaError{Code: code, Message: message}
}

// NewErrorf creates a new AreaError with a formatted message.
func NewErrorf(code, format string, args ...any) *AreaError {
	return &AreaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithArea attaches an area ID to the error.
func (e *AreaError) WithArea(areaID string) *AreaError {
	e.AreaID = areaID
	return e
}

// WithCause attaches an underlying cause.
func (e *AreaError) WithCause(err error) *AreaError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AreaError) WithDetails(details map[string]any) *AreaError {
	e.Details = details
	return e
}

// IsTransient reports whether the failure is expected to clear on its own
// and should be retried on the next tick.
func (e *AreaError) IsTransient() bool {
	switch e.Code {
	case ErrCodeUpstreamUnavailable, ErrCodeTimeout, ErrCodeCircuitOpen:
		return true
	default:
		return false
	}
}

// IsConfigError reports whether the failure is caused by the area's own
// configuration and will repeat until the configuration changes.
func (e *AreaError) IsConfigError() bool {
	switch e.Code {
	case ErrCodeInvalidActionConfig, ErrCodeUnknownActionType, ErrCodeUnknownReactionType:
		return true
	default:
		return false
	}
}

// IsCode reports whether err is, or wraps, an *AreaError with the given code.
func IsCode(err error, code string) bool {
	var areaErr *AreaError
	return errors.As(err, &areaErr) && areaErr.Code == code
}
