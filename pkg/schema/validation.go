package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationSeverity indicates whether an issue rejects an Area or only
// flags it.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// RootPath addresses the Area definition as a whole.
const RootPath = "area"

// ActionPath addresses the action or one of its fields:
// ActionPath("parameters", "url") is "action.parameters.url".
func ActionPath(fields ...string) string {
	return joinPath("action", fields)
}

// ReactionPath addresses the reaction at index or one of its fields:
// ReactionPath(2, "name") is "reactions[2].name".
func ReactionPath(index int, fields ...string) string {
	return joinPath(fmt.Sprintf("reactions[%d]", index), fields)
}

// PointerPath converts a JSON pointer into an issue path:
// "/reactions/0/parameters/url" becomes "reactions[0].parameters.url" and
// "/" becomes RootPath.
func PointerPath(pointer string) string {
	parts := strings.Split(strings.Trim(pointer, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return RootPath
	}
	var b strings.Builder
	for i, p := range parts {
		if _, err := strconv.Atoi(p); err == nil && i > 0 {
			b.WriteString("[" + p + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}

func joinPath(base string, fields []string) string {
	if len(fields) == 0 {
		return base
	}
	return base + "." + strings.Join(fields, ".")
}

// ValidationIssue is one problem found in an Area definition, located by
// its issue path.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return i.Path + ": " + i.Message
}

// ValidationResult aggregates the issues found in one Area definition.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the Area can be stored. Warnings do not block it.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts an invalid result into a VALIDATION_ERROR whose message
// names the offending path; nil when valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors, first at %s", len(r.Errors), msg)
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
