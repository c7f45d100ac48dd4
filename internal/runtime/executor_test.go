package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinje/pflow/internal/ir"
	"github.com/spinje/pflow/internal/store"
	"github.com/spinje/pflow/internal/template"
)

func newTestExecutor(hits *int, opts ...ExecutorOption) *Executor {
	return NewExecutor(testRegistry(hits), opts...)
}

func TestExecuteSuccess(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "greet", Type: "echo", Params: map[string]any{"message": "hello ${name}"}},
		},
		Inputs: map[string]ir.InputSpec{"name": {Type: "string"}},
		Outputs: map[string]ir.OutputSpec{
			"greeting": {Source: "${greet.message}"},
		},
	}

	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{
		Params: map[string]any{"name": "ada"},
	})

	require.True(t, result.Success)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, "hello ada", result.Outputs["greeting"])
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StepCompleted, result.Steps[0].Status)
	assert.False(t, result.Steps[0].Cached)
}

func TestExecuteUnusedInputValidationFailure(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "clone", Type: "echo", Params: map[string]any{"url": "${repo}"}},
		},
		Inputs: map[string]ir.InputSpec{
			"repo":   {Type: "string"},
			"unused": {Type: "string"},
		},
	}

	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{
		Params: map[string]any{"repo": "r", "unused": "u"},
	})

	require.False(t, result.Success)
	assert.Equal(t, StatusValidationFailed, result.Status)
	assert.Empty(t, result.Shared, "no nodes may run on validation failure")
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, CategoryValidation, result.Errors[0].Category)
	found := false
	for _, rec := range result.Errors {
		if rec.Category == CategoryValidation && strings.Contains(rec.Message, "unused") {
			found = true
		}
	}
	assert.True(t, found, "error list should name the unused input")
}

func TestExecuteMissingRequiredParam(t *testing.T) {
	wf := &ir.Workflow{
		Nodes:  []ir.NodeSpec{{ID: "n", Type: "echo", Params: map[string]any{"v": "${need}"}}},
		Inputs: map[string]ir.InputSpec{"need": {Type: "string"}},
	}
	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{})
	assert.Equal(t, StatusValidationFailed, result.Status)
}

func TestExecuteStrictTemplateError(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "n", Type: "echo", Params: map[string]any{"v": "${__absent__}"}},
		},
	}
	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{Mode: template.Strict})

	require.False(t, result.Success)
	assert.Equal(t, StatusFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, CategoryTemplate, result.Errors[0].Category)
	assert.Contains(t, result.Errors[0].Message, "__absent__")
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StepFailed, result.Steps[0].Status)
}

func TestExecutePermissiveTemplateError(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "n", Type: "echo", Params: map[string]any{"v": "${__absent__}"}},
		},
	}
	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{Mode: template.Permissive})

	require.True(t, result.Success, "permissive mode runs the node with literal text")
	assert.Equal(t, "${__absent__}", result.Shared["n"].(map[string]any)["v"])
	section := result.Shared[store.TemplateErrorsKey].(map[string]any)
	assert.Contains(t, section, "n")
}

func TestExecuteResumeAllCached(t *testing.T) {
	hits := 0
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "a", Type: "counter", Params: map[string]any{"value": 1}},
			{ID: "b", Type: "echo", Params: map[string]any{"out": "x"}},
		},
		Edges: []ir.EdgeSpec{{From: "a", To: "b"}},
	}
	exec := newTestExecutor(&hits)

	first := exec.Execute(context.Background(), wf, Options{})
	require.True(t, first.Success)
	require.Equal(t, 1, hits)

	second := exec.Execute(context.Background(), wf, Options{ResumeState: first.Shared})
	require.True(t, second.Success)
	assert.Equal(t, 1, hits, "fully-cached resume must not re-execute")
	for _, step := range second.Steps {
		assert.Equal(t, StepCompleted, step.Status)
		assert.True(t, step.Cached, "step %s should be cached", step.NodeID)
	}
}

// repairFunc adapts a function to the Repairer interface.
type repairFunc func(ctx context.Context, req *RepairRequest) (*ir.Workflow, error)

func (f repairFunc) Repair(ctx context.Context, req *RepairRequest) (*ir.Workflow, error) {
	return f(ctx, req)
}

func TestExecuteRepairAndResume(t *testing.T) {
	hits := 0
	broken := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "a", Type: "counter", Params: map[string]any{"value": 1}},
			{ID: "b", Type: "counter", Params: map[string]any{"value": 2}},
			{ID: "c", Type: "fail", Params: map[string]any{"message": "c is broken"}},
			{ID: "d", Type: "echo", Params: map[string]any{"out": "done"}},
		},
		Edges: []ir.EdgeSpec{
			{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "d"},
		},
	}
	fixed := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "a", Type: "counter", Params: map[string]any{"value": 1}},
			{ID: "b", Type: "counter", Params: map[string]any{"value": 2}},
			{ID: "c", Type: "echo", Params: map[string]any{"note": "repaired"}},
			{ID: "d", Type: "echo", Params: map[string]any{"out": "done"}},
		},
		Edges: []ir.EdgeSpec{
			{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "d"},
		},
	}

	repairCalls := 0
	executor := newTestExecutor(&hits, WithRepairer(repairFunc(
		func(ctx context.Context, req *RepairRequest) (*ir.Workflow, error) {
			repairCalls++
			require.NotEmpty(t, req.Errors)
			assert.Equal(t, "make it work", req.OriginalRequest)
			return fixed, nil
		})))

	result := executor.Execute(context.Background(), broken, Options{
		EnableRepair:    true,
		OriginalRequest: "make it work",
	})

	require.Equal(t, 1, repairCalls)
	require.True(t, result.Success, "repaired workflow should complete: %v", result.Errors)
	assert.Equal(t, 2, hits, "a and b must not re-execute after repair")

	byID := map[string]NodeStep{}
	for _, s := range result.Steps {
		byID[s.NodeID] = s
	}
	assert.True(t, byID["a"].Cached)
	assert.True(t, byID["b"].Cached)
	assert.Equal(t, StepCompleted, byID["c"].Status)
	assert.False(t, byID["c"].Cached)
	assert.Equal(t, StepCompleted, byID["d"].Status)
}

func TestExecuteRepairFailureIsTerminal(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "c", Type: "fail"}},
	}
	stillBroken := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "c", Type: "fail", Params: map[string]any{"message": "still broken"}}},
	}

	repairCalls := 0
	executor := newTestExecutor(nil, WithRepairer(repairFunc(
		func(ctx context.Context, req *RepairRequest) (*ir.Workflow, error) {
			repairCalls++
			return stillBroken, nil
		})))

	result := executor.Execute(context.Background(), wf, Options{EnableRepair: true})
	assert.Equal(t, 1, repairCalls, "a second failure is terminal, repair runs once")
	require.False(t, result.Success)
	assert.Contains(t, result.Errors[0].Message, "still broken")
}

func TestExecuteNotExecutedSteps(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{
			{ID: "ok", Type: "echo", Params: map[string]any{"out": 1}},
			{ID: "bad", Type: "fail"},
			{ID: "never", Type: "echo", Params: map[string]any{"out": 2}},
		},
		Edges: []ir.EdgeSpec{{From: "ok", To: "bad"}, {From: "bad", To: "never"}},
	}
	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{})

	require.False(t, result.Success)
	byID := map[string]NodeStep{}
	for _, s := range result.Steps {
		byID[s.NodeID] = s
	}
	assert.Equal(t, StepCompleted, byID["ok"].Status)
	assert.Equal(t, StepFailed, byID["bad"].Status)
	assert.Equal(t, StepNotExecuted, byID["never"].Status)
}

func TestExecuteProgressAndEventBus(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "n", Type: "echo", Params: map[string]any{"out": 1}}},
	}
	executor := newTestExecutor(nil)

	var busEvents []ProgressEvent
	executor.Events().Subscribe(func(e Event) { busEvents = append(busEvents, e.Type) })

	var cbEvents []ProgressEvent
	result := executor.Execute(context.Background(), wf, Options{
		Progress: func(nodeID string, event ProgressEvent, durationMS float64, depth int) {
			cbEvents = append(cbEvents, event)
		},
	})

	require.True(t, result.Success)
	want := []ProgressEvent{EventWorkflowStart, EventNodeStart, EventNodeComplete}
	assert.Equal(t, want, cbEvents)
	assert.Equal(t, want, busEvents)
}

func TestExecuteRecordsHistory(t *testing.T) {
	history := NewMemoryHistory()
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "n", Type: "echo", Params: map[string]any{"out": 1}}},
	}
	executor := newTestExecutor(nil, WithHistory(history))

	result := executor.Execute(context.Background(), wf, Options{})
	require.True(t, result.Success)

	rec, err := history.Get(result.ExecutionID)
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, StatusSuccess, rec.Status)

	runs, err := history.List(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestExecuteUnknownNodeType(t *testing.T) {
	wf := &ir.Workflow{
		Nodes: []ir.NodeSpec{{ID: "n", Type: "quantum"}},
	}
	result := newTestExecutor(nil).Execute(context.Background(), wf, Options{})
	require.False(t, result.Success)
	assert.Equal(t, StatusValidationFailed, result.Status)
}
