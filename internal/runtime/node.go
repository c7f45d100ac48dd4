// Package runtime compiles workflow IR into executable flows and runs
// them: the instrumented node wrapper, the compiler, the action-guided
// flow runner, sub-workflow composition, and the execution orchestrator.
package runtime

import (
	"context"

	"github.com/spinje/pflow/internal/store"
)

// Node is the capability interface every executable node implements. The
// runtime drives the prep → exec → post lifecycle; post returns the action
// that selects the outgoing edge.
type Node interface {
	SetParams(params map[string]any)
	Params() map[string]any
	Prep(ctx context.Context, shared store.View) (any, error)
	Exec(ctx context.Context, prepRes any) (any, error)
	Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error)
}

// BaseNode provides parameter storage and no-op lifecycle defaults for
// embedding in node implementations.
type BaseNode struct {
	params map[string]any
}

// SetParams replaces the node's parameters.
func (b *BaseNode) SetParams(params map[string]any) { b.params = params }

// Params returns the node's current parameters.
func (b *BaseNode) Params() map[string]any {
	if b.params == nil {
		b.params = make(map[string]any)
	}
	return b.params
}

// Prep is a no-op by default.
func (b *BaseNode) Prep(ctx context.Context, shared store.View) (any, error) { return nil, nil }

// Exec is a no-op by default.
func (b *BaseNode) Exec(ctx context.Context, prepRes any) (any, error) { return nil, nil }

// Post returns the default action by default.
func (b *BaseNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	return "default", nil
}
