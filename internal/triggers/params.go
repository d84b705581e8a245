package triggers

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/rendis/area/pkg/schema"
)

// decodeParams decodes a validated parameter or state map into a typed
// struct using its json tags. Numbers stored as strings and similar loose
// encodings are accepted.
func decodeParams(actionType string, in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return schema.NewErrorf(schema.ErrCodeInvalidActionConfig, "%s: %s", actionType, err.Error()).WithCause(err)
	}
	return nil
}

// timeContext returns the date/time fields every firing Action exposes to
// its Reactions, rendered in loc.
func timeContext(now time.Time, loc *time.Location) map[string]any {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	return map[string]any{
		"date":      t.Format("2006-01-02"),
		"time":      t.Format("15:04"),
		"datetime":  t.Format(time.RFC3339),
		"timestamp": t.Unix(),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(actionType, field string, v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: state %s must be an RFC3339 timestamp, got %T", actionType, field, v)
	}
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: state %s %q is not an RFC3339 timestamp", actionType, field, s).WithCause(err)
	}
	return &t, nil
}
