package expressions

import "context"

// Engine evaluates expressions embedded in trigger parameters.
// Three implementations: CEL (webhook filters), GoJQ (JSON selection), Expr (poll conditions).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy interprets an expression result as a boolean guard. Only a real
// boolean true passes; nil, numbers and strings do not.
func Truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
