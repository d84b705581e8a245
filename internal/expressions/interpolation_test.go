package expressions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/pkg/schema"
)

func TestInterpolate_SeedMessage(t *testing.T) {
	out := Interpolate("Action déclenchée le {{date}} à {{time}}.", map[string]any{
		"date": "2024-01-01",
		"time": "12:00",
	})
	assert.Equal(t, "Action déclenchée le 2024-01-01 à 12:00.", out)
}

func TestInterpolate_NoTokensIsIdentity(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"braces { and } alone",
		"single {brace} pair",
		"unicode à é ü",
	}
	for _, s := range inputs {
		assert.Equal(t, s, Interpolate(s, map[string]any{}), s)
		assert.Equal(t, s, Interpolate(s, nil), s)
	}
}

func TestInterpolate_UnresolvedKeysStayLiteral(t *testing.T) {
	out := Interpolate("hello {{name}}, today is {{date}}", map[string]any{"date": "2024-01-01"})
	assert.Equal(t, "hello {{name}}, today is 2024-01-01", out)

	// Whitespace inside the token is preserved when unresolved.
	assert.Equal(t, "{{ missing }}", Interpolate("{{ missing }}", map[string]any{}))
}

func TestInterpolate_TrimsKeyWhitespace(t *testing.T) {
	assert.Equal(t, "x=1", Interpolate("x={{ x }}", map[string]any{"x": "1"}))
}

func TestInterpolate_UnclosedTokenLeftAsIs(t *testing.T) {
	assert.Equal(t, "value {{date and more", Interpolate("value {{date and more", map[string]any{"date": "d"}))
	assert.Equal(t, "d then {{broken", Interpolate("{{date}} then {{broken", map[string]any{"date": "d"}))
}

func TestInterpolate_EmptyKeyLeftAsIs(t *testing.T) {
	assert.Equal(t, "{{}}", Interpolate("{{}}", map[string]any{"": "x"}))
}

func TestInterpolate_DottedPaths(t *testing.T) {
	ctx := map[string]any{
		"payload": map[string]any{
			"user": map[string]any{"name": "ada"},
		},
		"a.b": "direct",
	}
	assert.Equal(t, "hi ada", Interpolate("hi {{payload.user.name}}", ctx))
	assert.Equal(t, "direct", Interpolate("{{a.b}}", ctx), "exact key wins over traversal")
	assert.Equal(t, "{{payload.user.age}}", Interpolate("{{payload.user.age}}", ctx))
	assert.Equal(t, "{{payload.user.name.first}}", Interpolate("{{payload.user.name.first}}", ctx))
}

func TestInterpolate_Stringification(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := map[string]any{
		"f":     1.5,
		"whole": float64(3),
		"i":     42,
		"i64":   int64(7),
		"b":     true,
		"nil":   nil,
		"t":     ts,
		"list":  []any{"a", 1.0},
		"obj":   map[string]any{"k": "v"},
	}
	assert.Equal(t, "1.5", Interpolate("{{f}}", ctx))
	assert.Equal(t, "3", Interpolate("{{whole}}", ctx))
	assert.Equal(t, "42", Interpolate("{{i}}", ctx))
	assert.Equal(t, "7", Interpolate("{{i64}}", ctx))
	assert.Equal(t, "true", Interpolate("{{b}}", ctx))
	assert.Equal(t, "[]", Interpolate("[{{nil}}]", ctx))
	assert.Equal(t, "2024-01-01T12:00:00Z", Interpolate("{{t}}", ctx))
	assert.Equal(t, `["a",1]`, Interpolate("{{list}}", ctx))
	assert.Equal(t, `{"k":"v"}`, Interpolate("{{obj}}", ctx))
}

func TestInterpolate_Deterministic(t *testing.T) {
	ctx := map[string]any{"a": "1", "b": "2"}
	first := Interpolate("{{a}}-{{b}}-{{c}}", ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Interpolate("{{a}}-{{b}}-{{c}}", ctx))
	}
}

func TestInterpolate_ValueContainingTokenIsNotReexpanded(t *testing.T) {
	ctx := map[string]any{"a": "{{b}}", "b": "nope"}
	assert.Equal(t, "{{b}}", Interpolate("{{a}}", ctx))
}

func TestInterpolateParams_NonStringPassThrough(t *testing.T) {
	params := map[string]any{
		"message": "at {{time}}",
		"count":   3.0,
		"enabled": true,
		"nested": map[string]any{
			"title": "{{date}}",
			"tags":  []any{"{{time}}", 1.0},
		},
		"nothing": nil,
	}
	ctx := map[string]any{"date": "2024-01-01", "time": "12:00"}

	out := InterpolateParams(params, ctx)

	assert.Equal(t, "at 12:00", out["message"])
	assert.Equal(t, 3.0, out["count"])
	assert.Equal(t, true, out["enabled"])
	assert.Nil(t, out["nothing"])
	nested, ok := out["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-01-01", nested["title"])
	assert.Equal(t, []any{"12:00", 1.0}, nested["tags"])

	// Source parameters are never resolved at rest.
	assert.Equal(t, "at {{time}}", params["message"])
	assert.Equal(t, "{{date}}", params["nested"].(map[string]any)["title"])
}

func TestInterpolateParams_Nil(t *testing.T) {
	assert.Nil(t, InterpolateParams(nil, map[string]any{"a": 1}))
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, HasPlaceholders("{{a}}"))
	assert.True(t, HasPlaceholders("x {{ a }} y"))
	assert.False(t, HasPlaceholders("{{a"))
	assert.False(t, HasPlaceholders("a}}"))
	assert.False(t, HasPlaceholders("plain"))
}

func TestNewExecutionContext(t *testing.T) {
	area := &schema.Area{ID: "a1", Name: "Morning", UserID: "u1"}
	fields := map[string]any{
		"date":    "2024-01-01",
		"payload": map[string]any{"k": "v"},
	}

	ctx := NewExecutionContext(area, fields)

	assert.Equal(t, "2024-01-01", ctx["date"])
	assert.Equal(t, "a1", Interpolate("{{area.id}}", ctx))
	assert.Equal(t, "Morning", Interpolate("{{area.name}}", ctx))
	assert.Equal(t, "u1", Interpolate("{{area.user_id}}", ctx))

	// Frozen: mutating the source does not leak into the context.
	fields["payload"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", Interpolate("{{payload.k}}", ctx))
}

func TestExecutionContext_Resolve(t *testing.T) {
	ctx := NewExecutionContext(nil, map[string]any{"time": "08:00"})
	out := ctx.Resolve(map[string]any{"message": "wake up at {{time}}"})
	assert.Equal(t, "wake up at 08:00", out["message"])
	_, hasArea := ctx["area"]
	assert.False(t, hasArea)
}
