package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("reactions[0].name", ErrCodeValidation, "reaction type not registered")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "reactions[0].name", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "reaction type not registered", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("action.parameters.interval", ErrCodeValidation, "sub-second interval")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("reactions[0]", ErrCodeUnknownReactionType, "err2")
	r2.AddWarning("reactions[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("reactions[0].name", ErrCodeValidation, "reaction type not registered")

	err := r.ToError()
	require.NotNil(t, err)

	areaErr, ok := err.(*AreaError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, areaErr.Code)
	assert.Equal(t, "reactions[0].name: reaction type not registered", areaErr.Message)
	assert.Equal(t, 1, areaErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError(RootPath, ErrCodeValidation, "err1")
	r.AddError(RootPath, ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	areaErr, ok := err.(*AreaError)
	require.True(t, ok)
	assert.Equal(t, "validation failed with 2 errors, first at area: err1", areaErr.Message)
	assert.Equal(t, 2, areaErr.Details["error_count"])
	assert.Equal(t, 1, areaErr.Details["warning_count"])
}

func TestIssuePaths(t *testing.T) {
	assert.Equal(t, "action", ActionPath())
	assert.Equal(t, "action.parameters.url", ActionPath("parameters", "url"))
	assert.Equal(t, "reactions[2]", ReactionPath(2))
	assert.Equal(t, "reactions[2].name", ReactionPath(2, "name"))
}

func TestPointerPath(t *testing.T) {
	tests := []struct{ pointer, want string }{
		{"/", RootPath},
		{"", RootPath},
		{"/name", "name"},
		{"/action/parameters/interval", "action.parameters.interval"},
		{"/reactions/0/name", "reactions[0].name"},
		{"/reactions/1/parameters/headers/X-Id", "reactions[1].parameters.headers.X-Id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PointerPath(tt.pointer), tt.pointer)
	}
}
