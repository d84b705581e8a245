package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timerArea() *Area {
	return &Area{
		ID:       "area-1",
		IsActive: true,
		Action: Action{
			Name:       "TIMER_EVERY_X_MINUTES",
			Parameters: map[string]any{"interval": 0.1},
		},
		Reactions: []Reaction{
			{Name: "TIMER_LOG", Parameters: map[string]any{"message": "{{date}}"}},
		},
	}
}

func TestConfigHash_IgnoresStateAndLedger(t *testing.T) {
	a := timerArea()
	before := a.ConfigHash()
	require.NotEmpty(t, before)

	a.Action.State = map[string]any{"lastFiredAt": "2024-01-01T00:00:00Z"}
	msg := "boom"
	a.ErrorLog = &msg
	a.ConsecutiveFailures = 2
	a.Revision = 7

	assert.Equal(t, before, a.ConfigHash())
}

func TestConfigHash_ChangesWithParameters(t *testing.T) {
	a := timerArea()
	before := a.ConfigHash()

	a.Action.Parameters["interval"] = 5.0
	assert.NotEqual(t, before, a.ConfigHash())

	b := timerArea()
	b.Reactions[0].Parameters["message"] = "changed"
	assert.NotEqual(t, before, b.ConfigHash())
}

func TestPaused(t *testing.T) {
	a := timerArea()
	assert.False(t, a.Paused())

	a.PausedConfigHash = a.ConfigHash()
	assert.True(t, a.Paused())

	a.Action.Parameters["interval"] = 1.0
	assert.False(t, a.Paused(), "editing the configuration lifts the pause")
}

func TestAreaError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeInvalidActionConfig, "interval must be positive, got %v", -1)
	assert.Equal(t, "[INVALID_ACTION_CONFIG] interval must be positive, got -1", err.Error())

	err.WithArea("a1")
	assert.Equal(t, "[INVALID_ACTION_CONFIG] area a1: interval must be positive, got -1", err.Error())
}

func TestAreaError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := NewError(ErrCodeUpstreamUnavailable, "poll failed").WithCause(cause)

	assert.True(t, errors.Is(err, cause))

	var areaErr *AreaError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &areaErr))
	assert.Equal(t, ErrCodeUpstreamUnavailable, areaErr.Code)
}

func TestAreaError_Classification(t *testing.T) {
	transient := []string{ErrCodeUpstreamUnavailable, ErrCodeTimeout, ErrCodeCircuitOpen}
	for _, code := range transient {
		assert.True(t, NewError(code, "x").IsTransient(), code)
		assert.False(t, NewError(code, "x").IsConfigError(), code)
	}

	config := []string{ErrCodeInvalidActionConfig, ErrCodeUnknownActionType, ErrCodeUnknownReactionType}
	for _, code := range config {
		assert.True(t, NewError(code, "x").IsConfigError(), code)
		assert.False(t, NewError(code, "x").IsTransient(), code)
	}

	assert.False(t, NewError(ErrCodeAuthExpired, "x").IsTransient())
	assert.False(t, NewError(ErrCodeAuthExpired, "x").IsConfigError())
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("load: %w", NewError(ErrCodeNotFound, "area missing"))
	assert.True(t, IsCode(err, ErrCodeNotFound))
	assert.False(t, IsCode(err, ErrCodeConflict))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeNotFound))
	assert.False(t, IsCode(nil, ErrCodeNotFound))
}
