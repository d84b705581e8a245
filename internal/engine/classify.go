package engine

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rendis/area/pkg/schema"
)

// Classify converts any error returned by an evaluator, executor or
// collaborator into an *schema.AreaError. AreaErrors pass through; context
// expiry and network failures become transient codes; anything else is an
// EXECUTION_ERROR. Returns nil for a nil error.
func Classify(err error) *schema.AreaError {
	if err == nil {
		return nil
	}

	var areaErr *schema.AreaError
	if errors.As(err, &areaErr) {
		return areaErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "deadline exceeded").WithCause(err)
	}

	// Cancellation only happens on shutdown; the next tick retries.
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCodeTimeout, "cancelled before completion").WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return schema.NewError(schema.ErrCodeTimeout, err.Error()).WithCause(err)
		}
		return schema.NewError(schema.ErrCodeUpstreamUnavailable, err.Error()).WithCause(err)
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"no such host",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return schema.NewError(schema.ErrCodeUpstreamUnavailable, err.Error()).WithCause(err)
		}
	}

	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}

// IsTransient reports whether err is expected to clear by the next tick.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).IsTransient()
}
