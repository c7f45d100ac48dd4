package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinje/pflow/internal/ir"
	"github.com/spinje/pflow/internal/store"
)

// captureNode records the params it was given at run time.
type captureNode struct {
	BaseNode
	seen *map[string]any
}

func (n *captureNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	*n.seen = n.Params()
	return "default", nil
}

func TestCompileValidatesFirst(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "a", Type: "echo"}},
		Edges: []ir.EdgeSpec{{From: "a", To: "ghost"}},
	}
	_, err := testCompiler(testRegistry(nil)).Compile(wf)
	require.Error(t, err)
	_, ok := err.(ir.ValidationErrors)
	assert.True(t, ok, "compile surfaces validation errors as a collected list")
}

func TestCompileIdempotent(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "a", Type: "echo", Params: map[string]any{"out": 1}},
			{ID: "b", Type: "echo", Params: map[string]any{"out": 2}},
		},
		Edges: []ir.EdgeSpec{{From: "a", To: "b"}},
	}
	compiler := testCompiler(testRegistry(nil))

	flow1, err := compiler.Compile(wf)
	require.NoError(t, err)
	flow2, err := compiler.Compile(wf)
	require.NoError(t, err)

	root1, root2 := map[string]any{}, map[string]any{}
	require.NoError(t, flow1.Run(context.Background(), root1))
	require.NoError(t, flow2.Run(context.Background(), root2))
	assert.Equal(t, root1["a"], root2["a"])
}

func TestCompileMCPInjection(t *testing.T) {
	var seen map[string]any
	reg := testRegistry(nil)
	reg.Register("mcp", Definition{New: func() Node { return &captureNode{seen: &seen} }})

	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{
			ID:     "gh",
			Type:   "mcp-github-list_repositories",
			Params: map[string]any{"arguments": map[string]any{"org": "spinje"}},
		}},
	}
	flow, err := testCompiler(reg).Compile(wf)
	require.NoError(t, err)
	require.NoError(t, flow.Run(context.Background(), map[string]any{}))

	assert.Equal(t, "github", seen[store.MCPServerKey])
	assert.Equal(t, "list_repositories", seen[store.MCPToolKey])
}

func TestCompileBareMCPPrefixNotInjected(t *testing.T) {
	var seen map[string]any
	reg := testRegistry(nil)
	reg.Register("mcp-", Definition{New: func() Node { return &captureNode{seen: &seen} }})

	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "odd", Type: "mcp-"}},
	}
	flow, err := testCompiler(reg).Compile(wf)
	require.NoError(t, err)
	require.NoError(t, flow.Run(context.Background(), map[string]any{}))

	assert.NotContains(t, seen, store.MCPServerKey)
	assert.NotContains(t, seen, store.MCPToolKey)
}

func TestCompileStartNodeSelection(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "first", Type: "echo"},
			{ID: "second", Type: "echo"},
		},
	}
	flow, err := testCompiler(testRegistry(nil)).Compile(wf)
	require.NoError(t, err)
	assert.Equal(t, "first", flow.Start)

	wf.StartNode = "second"
	flow, err = testCompiler(testRegistry(nil)).Compile(wf)
	require.NoError(t, err)
	assert.Equal(t, "second", flow.Start)
}

func TestNodeRegistry(t *testing.T) {
	reg := NewNodeRegistry()
	assert.False(t, reg.Has("echo"))

	reg.Register("echo", Definition{New: func() Node { return &echoTestNode{} }})
	assert.True(t, reg.Has("echo"))

	node, def, err := reg.Build("echo")
	require.NoError(t, err)
	assert.NotNil(t, node)
	assert.Nil(t, def.ParamTypes)

	_, _, err = reg.Build("missing")
	assert.Error(t, err)
}
