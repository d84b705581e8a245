package reactions

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/rendis/area/pkg/schema"
)

// decodeParams decodes interpolated parameters into a typed struct using its
// json tags. Placeholders always resolve to strings, so weak typing lets
// "3" fill an int field.
func decodeParams(reactionType string, in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", reactionType, err.Error()).WithCause(err)
	}
	return nil
}

// truncate shortens s to at most n bytes for error details.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const defaultHTTPTimeout = 30 * time.Second
