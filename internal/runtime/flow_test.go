package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinje/pflow/internal/ir"
)

func compileAndRun(t *testing.T, wf *ir.Workflow, root map[string]any) error {
	t.Helper()
	flow, err := testCompiler(testRegistry(nil)).Compile(wf)
	require.NoError(t, err)
	return flow.Run(context.Background(), root)
}

func TestFlowLinear(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "first", Type: "echo", Params: map[string]any{"out": "one"}},
			{ID: "second", Type: "echo", Params: map[string]any{"out": "two"}},
		},
		Edges: []ir.EdgeSpec{{From: "first", To: "second"}},
	}
	root := map[string]any{}
	require.NoError(t, compileAndRun(t, wf, root))

	first, ok := root["first"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "one", first["out"])
	second := root["second"].(map[string]any)
	assert.Equal(t, "two", second["out"])
}

func TestFlowNamespacingCollision(t *testing.T) {
	// Two nodes both writing "out": with namespacing on, both values
	// survive under their node ids and no root "out" key appears.
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "echo1", Type: "echo", Params: map[string]any{"out": "from-1"}},
			{ID: "echo2", Type: "echo", Params: map[string]any{"out": "from-2"}},
		},
		Edges: []ir.EdgeSpec{{From: "echo1", To: "echo2"}},
	}
	root := map[string]any{}
	require.NoError(t, compileAndRun(t, wf, root))

	assert.Equal(t, "from-1", root["echo1"].(map[string]any)["out"])
	assert.Equal(t, "from-2", root["echo2"].(map[string]any)["out"])
	_, hasRootOut := root["out"]
	assert.False(t, hasRootOut, "no root 'out' key with namespacing on")
}

func TestFlowNamespacingDisabled(t *testing.T) {
	off := false
	wf := &ir.Workflow{
		EnableNamespacing: &off,
		Nodes: []ir.NodeSpec{
			{ID: "echo1", Type: "echo", Params: map[string]any{"out": "from-1"}},
			{ID: "echo2", Type: "echo", Params: map[string]any{"out": "from-2"}},
		},
		Edges: []ir.EdgeSpec{{From: "echo1", To: "echo2"}},
	}
	root := map[string]any{}
	require.NoError(t, compileAndRun(t, wf, root))
	assert.Equal(t, "from-2", root["out"], "later write wins at root without namespacing")
}

func TestFlowActionBranching(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "decide", Type: "echo", Params: map[string]any{"action": "publish"}},
			{ID: "draft", Type: "echo", Params: map[string]any{"path": "draft"}},
			{ID: "publish", Type: "echo", Params: map[string]any{"path": "publish"}},
		},
		Edges: []ir.EdgeSpec{
			{From: "decide", To: "draft", Action: "draft"},
			{From: "decide", To: "publish", Action: "publish"},
		},
	}
	root := map[string]any{}
	require.NoError(t, compileAndRun(t, wf, root))

	_, ranDraft := root["draft"]
	assert.False(t, ranDraft)
	assert.Equal(t, "publish", root["publish"].(map[string]any)["path"])
}

func TestFlowTerminatesWithoutSuccessor(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "only", Type: "echo", Params: map[string]any{"action": "unrouted"}},
		},
	}
	root := map[string]any{}
	assert.NoError(t, compileAndRun(t, wf, root), "missing successor is a normal terminal condition")
}

func TestFlowConditionEdges(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "score", Type: "echo", Params: map[string]any{"value": 80}},
			{ID: "high", Type: "echo", Params: map[string]any{"tier": "high"}},
			{ID: "low", Type: "echo", Params: map[string]any{"tier": "low"}},
		},
		Edges: []ir.EdgeSpec{
			{From: "score", To: "low", When: "score.value < 50"},
			{From: "score", To: "high", When: "score.value >= 50"},
		},
	}
	root := map[string]any{}
	require.NoError(t, compileAndRun(t, wf, root))

	_, ranLow := root["low"]
	assert.False(t, ranLow)
	assert.Equal(t, "high", root["high"].(map[string]any)["tier"])
}

func TestFlowErrorStopsRun(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "bad", Type: "fail", Params: map[string]any{"message": "broken pipe"}},
			{ID: "after", Type: "echo", Params: map[string]any{"out": "x"}},
		},
		Edges: []ir.EdgeSpec{{From: "bad", To: "after"}},
	}
	root := map[string]any{}
	err := compileAndRun(t, wf, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	_, ran := root["after"]
	assert.False(t, ran, "nodes after a failure must not run")
}
