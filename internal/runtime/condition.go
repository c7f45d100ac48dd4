package runtime

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/spinje/pflow/internal/store"
)

// evalCondition evaluates an edge's when-expression against the shared
// state. Node outputs are visible as variables by node id. Returns true
// for truthy results; compile or evaluation failures are reported as
// errors and the caller treats the edge as not taken.
func evalCondition(expression string, root map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	env := make(map[string]any, len(root))
	for k, v := range root {
		if !store.IsSpecialKey(k) {
			env[k] = v
		}
	}

	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return isTruthy(result), nil
}

// isTruthy converts a value to a boolean.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
