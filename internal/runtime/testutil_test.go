package runtime

import (
	"context"
	"errors"

	"github.com/spinje/pflow/internal/store"
)

// echoTestNode writes its resolved params into the shared state. An
// "action" param, when present, selects the returned action instead of
// being written.
type echoTestNode struct {
	BaseNode
}

func (n *echoTestNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	action := "default"
	for k, v := range n.Params() {
		if store.IsSpecialKey(k) {
			continue
		}
		if k == "action" {
			if s, ok := v.(string); ok {
				action = s
			}
			continue
		}
		shared.Set(k, v)
	}
	return action, nil
}

// counterNode counts executions through a shared pointer, for checkpoint
// assertions.
type counterNode struct {
	BaseNode
	hits *int
}

func (n *counterNode) Exec(ctx context.Context, prepRes any) (any, error) {
	*n.hits++
	return nil, nil
}

func (n *counterNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	if v, ok := n.Params()["value"]; ok {
		shared.Set("out", v)
	}
	return "default", nil
}

// failNode always fails in exec.
type failNode struct {
	BaseNode
}

func (n *failNode) Exec(ctx context.Context, prepRes any) (any, error) {
	msg, _ := n.Params()["message"].(string)
	if msg == "" {
		msg = "boom"
	}
	return nil, errors.New(msg)
}

// llmTestNode mimics an LLM node: writes a response and an llm_usage
// record into the shared state.
type llmTestNode struct {
	BaseNode
}

func (n *llmTestNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	response, _ := n.Params()["response"].(string)
	shared.Set("response", response)
	shared.Set("llm_usage", map[string]any{"model": "test-model", "total_tokens": 10})
	return "default", nil
}

// testRegistry registers the node types used across runtime tests.
// counterHits, when non-nil, receives execution counts from counter nodes.
func testRegistry(counterHits *int) *NodeRegistry {
	r := NewNodeRegistry()
	r.Register("echo", Definition{New: func() Node { return &echoTestNode{} }})
	r.Register("fail", Definition{New: func() Node { return &failNode{} }})
	r.Register("llm", Definition{New: func() Node { return &llmTestNode{} }})
	r.Register("typed", Definition{
		New:        func() Node { return &echoTestNode{} },
		ParamTypes: map[string]string{"items": "array", "config": "object"},
	})
	if counterHits != nil {
		r.Register("counter", Definition{New: func() Node { return &counterNode{hits: counterHits} }})
	}
	return r
}

func testCompiler(reg *NodeRegistry) *Compiler {
	return &Compiler{Registry: reg}
}
