package nodes

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/spinje/pflow/internal/runtime"
	"github.com/spinje/pflow/internal/store"
)

// CodeNode evaluates an inline expression against the shared state and
// stores the result.
//
// Params:
//   - code: the expression to evaluate (expr-lang)
//   - inputs: optional extra variables exposed to the expression
//
// The result is written to "result"; the action is always "default".
type CodeNode struct {
	runtime.BaseNode
}

func (n *CodeNode) Prep(ctx context.Context, shared store.View) (any, error) {
	code, _ := n.Params()["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("code node requires a non-empty 'code' parameter")
	}

	env := make(map[string]any)
	for _, k := range shared.Keys() {
		if store.IsSpecialKey(k) {
			continue
		}
		if v, ok := shared.Get(k); ok {
			env[k] = v
		}
	}
	if extra, ok := n.Params()["inputs"].(map[string]any); ok {
		for k, v := range extra {
			env[k] = v
		}
	}
	return env, nil
}

func (n *CodeNode) Exec(ctx context.Context, prepRes any) (any, error) {
	env := prepRes.(map[string]any)
	code, _ := n.Params()["code"].(string)

	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile code: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("run code: %w", err)
	}
	return result, nil
}

func (n *CodeNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	shared.Set("result", execRes)
	return "default", nil
}
