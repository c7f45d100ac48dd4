package nodes

import (
	"context"

	"github.com/spinje/pflow/internal/runtime"
	"github.com/spinje/pflow/internal/store"
)

// EchoNode writes its resolved parameters into the shared state verbatim.
// Useful for materializing values, debugging, and wiring tests.
type EchoNode struct {
	runtime.BaseNode
}

func (n *EchoNode) Exec(ctx context.Context, prepRes any) (any, error) {
	return n.Params(), nil
}

func (n *EchoNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	params, _ := execRes.(map[string]any)
	for k, v := range params {
		if store.IsSpecialKey(k) {
			continue
		}
		shared.Set(k, v)
	}
	return "default", nil
}
