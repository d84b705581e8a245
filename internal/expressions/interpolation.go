package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	openToken  = "{{"
	closeToken = "}}"
)

// Interpolate replaces every {{key}} token in template with the stringified
// value found in ctx. Keys are trimmed and may be dotted paths into nested
// maps ("payload.user.name"); an exact key containing dots wins over
// traversal. Tokens whose key cannot be resolved are left in place verbatim,
// as is an unclosed "{{". The function is pure.
func Interpolate(template string, ctx map[string]any) string {
	if !strings.Contains(template, openToken) {
		return template
	}

	var out strings.Builder
	out.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], openToken)
		if idx == -1 {
			out.WriteString(template[i:])
			break
		}
		out.WriteString(template[i : i+idx])
		start := i + idx + len(openToken)

		end := strings.Index(template[start:], closeToken)
		if end == -1 {
			out.WriteString(template[i+idx:])
			break
		}
		end += start

		key := strings.TrimSpace(template[start:end])
		val, ok := lookup(ctx, key)
		if !ok {
			out.WriteString(template[i+idx : end+len(closeToken)])
		} else {
			out.WriteString(Stringify(val))
		}
		i = end + len(closeToken)
	}

	return out.String()
}

// InterpolateParams applies Interpolate to every string found in params,
// recursing into nested maps and slices. Non-string values pass through
// unchanged. params is not modified; a new map is returned.
func InterpolateParams(params map[string]any, ctx map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = interpolateValue(v, ctx)
	}
	return out
}

func interpolateValue(v any, ctx map[string]any) any {
	switch val := v.(type) {
	case string:
		return Interpolate(val, ctx)
	case map[string]any:
		return InterpolateParams(val, ctx)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = interpolateValue(item, ctx)
		}
		return cp
	default:
		return deepCopyAny(v)
	}
}

// HasPlaceholders reports whether s contains at least one {{...}} token.
func HasPlaceholders(s string) bool {
	open := strings.Index(s, openToken)
	return open != -1 && strings.Contains(s[open+len(openToken):], closeToken)
}

// lookup resolves key against ctx, first as a direct key then as a dotted path.
func lookup(ctx map[string]any, key string) (any, bool) {
	if key == "" || ctx == nil {
		return nil, false
	}
	if val, ok := ctx[key]; ok {
		return val, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}

	var current any = ctx
	for _, seg := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok || seg == "" {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a context value the way it appears inside an
// interpolated parameter.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
