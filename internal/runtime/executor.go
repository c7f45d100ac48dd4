package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spinje/pflow/internal/ir"
	"github.com/spinje/pflow/internal/registry"
	"github.com/spinje/pflow/internal/store"
	"github.com/spinje/pflow/internal/template"
)

// Execution result statuses.
const (
	StatusSuccess          = "success"
	StatusValidationFailed = "validation_failed"
	StatusFailed           = "failed"
)

// Node step statuses reported in results.
const (
	StepCompleted   = "completed"
	StepFailed      = "failed"
	StepNotExecuted = "not_executed"
)

// Repairer is the external collaborator that proposes a replacement IR
// after a failed execution. The core only exposes the resume-with-new-IR
// mechanism; how the repair happens is out of scope.
type Repairer interface {
	Repair(ctx context.Context, req *RepairRequest) (*ir.Workflow, error)
}

// RepairRequest carries everything a repairer needs.
type RepairRequest struct {
	OriginalRequest string
	Workflow        *ir.Workflow
	Errors          []*ErrorRecord
	Shared          map[string]any
}

// Options configures a single execution.
type Options struct {
	// Params seeds the declared inputs of a fresh run.
	Params map[string]any
	// EnableRepair lets a configured Repairer propose a replacement IR
	// after a failure; the repaired workflow runs exactly once.
	EnableRepair bool
	// ResumeState is the shared state of a prior failed run; completed
	// nodes with matching hashes are skipped.
	ResumeState map[string]any
	// Progress receives execution events.
	Progress ProgressFunc
	// OriginalRequest is free text forwarded to the repair stage.
	OriginalRequest string
	// Mode selects strict or permissive template resolution.
	Mode template.Mode
	// WorkflowFile anchors relative sub-workflow references.
	WorkflowFile string
}

// NodeStep is the per-node outcome reported in a Result.
type NodeStep struct {
	NodeID     string  `json:"node_id"`
	Status     string  `json:"status"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	Cached     bool    `json:"cached,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Result is the structured outcome of one execution.
type Result struct {
	ExecutionID string         `json:"execution_id"`
	Success     bool           `json:"success"`
	Status      string         `json:"status"`
	Errors      []*ErrorRecord `json:"errors,omitempty"`
	Shared      map[string]any `json:"shared"`
	Steps       []NodeStep     `json:"steps"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// Executor is the single public entry point tying validation, compilation,
// execution, error reporting, and repair-and-resume together.
type Executor struct {
	registry  *NodeRegistry
	workflows *registry.WorkflowStore
	logger    *zap.Logger
	metrics   *Metrics
	bus       *EventBus
	repairer  Repairer
	history   History
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithWorkflowStore wires the named-workflow store used by sub-workflow
// nodes and name-based loads.
func WithWorkflowStore(ws *registry.WorkflowStore) ExecutorOption {
	return func(e *Executor) { e.workflows = ws }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithRepairer wires the external repair collaborator.
func WithRepairer(r Repairer) ExecutorOption {
	return func(e *Executor) { e.repairer = r }
}

// WithHistory wires run-history recording.
func WithHistory(h History) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

// NewExecutor creates an Executor over the given node registry.
func NewExecutor(reg *NodeRegistry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: reg,
		logger:   zap.NewNop(),
		bus:      NewEventBus(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the executor's event bus for subscribers that want the
// full execution stream rather than a single callback.
func (e *Executor) Events() *EventBus { return e.bus }

// Execute validates, compiles, and runs wf. Validation failures return
// before any node executes; runtime failures optionally go through one
// repair-and-resume pass.
func (e *Executor) Execute(ctx context.Context, wf *ir.Workflow, opts Options) *Result {
	start := time.Now()
	execID := uuid.NewString()
	wf = wf.Normalized()

	result := &Result{ExecutionID: execID, Shared: map[string]any{}}

	validator := &ir.Validator{}
	if e.registry != nil {
		validator.KnownType = e.registry.Has
	}
	if errs := validator.Validate(wf); len(errs) > 0 {
		return e.finish(validationFailure(result, errs), start)
	}

	params, errs := ir.ApplyParams(wf.Inputs, opts.Params)
	if len(errs) > 0 {
		return e.finish(validationFailure(result, errs), start)
	}

	compiler := &Compiler{
		Registry:  e.registry,
		Workflows: e.workflows,
		Logger:    e.logger,
		Metrics:   e.metrics,
		Mode:      opts.Mode,
	}
	flow, err := compiler.Compile(wf)
	if err != nil {
		if verrs, ok := err.(ir.ValidationErrors); ok {
			return e.finish(validationFailure(result, verrs), start)
		}
		result.Status = StatusFailed
		result.Errors = []*ErrorRecord{classifyError(err, "")}
		return e.finish(result, start)
	}

	shared := opts.ResumeState
	if shared == nil {
		shared = make(map[string]any, len(params)+4)
		for k, v := range params {
			shared[k] = v
		}
	}
	exec := store.ExecutionFrom(shared)
	exec.BeginRun()

	shared[store.ProgressCallbackKey] = e.progressFunc(execID, opts.Progress)
	if opts.WorkflowFile != "" {
		shared[store.WorkflowFileKey] = opts.WorkflowFile
	}

	result.Shared = shared
	emitProgress(shared, "", EventWorkflowStart, 0)

	runErr := flow.Run(ctx, shared)
	result.Steps = buildSteps(wf, exec, runErr)

	if runErr == nil {
		result.Success = true
		result.Status = StatusSuccess
		result.Outputs = e.resolveOutputs(wf, shared)
		e.metrics.ObserveRun(StatusSuccess)
		return e.finish(result, start)
	}

	rec := classifyError(runErr, exec.FailedNode)
	result.Status = StatusFailed
	result.Errors = []*ErrorRecord{rec}
	e.metrics.ObserveRun(StatusFailed)
	e.logger.Warn("workflow failed",
		zap.String("execution_id", execID),
		zap.String("failed_node", exec.FailedNode),
		zap.Error(runErr))

	if opts.EnableRepair && e.repairer != nil {
		repaired, repairErr := e.repairer.Repair(ctx, &RepairRequest{
			OriginalRequest: opts.OriginalRequest,
			Workflow:        wf,
			Errors:          result.Errors,
			Shared:          shared,
		})
		if repairErr == nil && repaired != nil {
			e.logger.Info("repair produced a replacement workflow; resuming",
				zap.String("execution_id", execID))
			retry := opts
			retry.EnableRepair = false
			retry.ResumeState = shared
			return e.Execute(ctx, repaired, retry)
		}
		if repairErr != nil {
			e.logger.Warn("repair failed", zap.Error(repairErr))
		}
	}

	return e.finish(result, start)
}

// progressFunc builds the callback installed into the shared state: it
// publishes to the event bus and forwards to the caller's callback.
func (e *Executor) progressFunc(execID string, user ProgressFunc) ProgressFunc {
	return func(nodeID string, event ProgressEvent, durationMS float64, depth int) {
		e.bus.Publish(NewEvent(execID, nodeID, event, durationMS, depth))
		if user != nil {
			user(nodeID, event, durationMS, depth)
		}
	}
}

func validationFailure(result *Result, errs ir.ValidationErrors) *Result {
	result.Status = StatusValidationFailed
	for _, ve := range errs {
		result.Errors = append(result.Errors, &ErrorRecord{
			Category:   CategoryValidation,
			Message:    ve.Error(),
			UserAction: "Fix the workflow definition and re-run.",
		})
	}
	return result
}

// buildSteps derives the per-node report from the checkpoint section,
// preserving IR declaration order.
func buildSteps(wf *ir.Workflow, exec *store.ExecutionState, runErr error) []NodeStep {
	steps := make([]NodeStep, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		step := NodeStep{NodeID: n.ID, Status: StepNotExecuted}
		switch {
		case exec.IsCompleted(n.ID):
			step.Status = StepCompleted
			step.DurationMS = exec.NodeDurations[n.ID]
			step.Cached = exec.WasCached(n.ID)
		case exec.FailedNode == n.ID:
			step.Status = StepFailed
			if runErr != nil {
				step.Error = runErr.Error()
			}
		}
		steps = append(steps, step)
	}
	return steps
}

// resolveOutputs evaluates every declared output's source template against
// the final shared state, preserving native types. Sources that fail to
// resolve are logged and skipped.
func (e *Executor) resolveOutputs(wf *ir.Workflow, shared map[string]any) map[string]any {
	if len(wf.Outputs) == 0 {
		return nil
	}
	outputs := make(map[string]any, len(wf.Outputs))
	resolver := template.NewResolver(template.Strict)
	for name, spec := range wf.Outputs {
		if spec.Source == "" {
			continue
		}
		if !template.HasTemplates(spec.Source) {
			outputs[name] = spec.Source
			continue
		}
		v, err := resolver.ResolveTemplate(spec.Source, shared)
		if err != nil {
			e.logger.Warn("output source did not resolve",
				zap.String("output", name), zap.Error(err))
			continue
		}
		outputs[name] = v
	}
	return outputs
}

// finish records history and stamps the duration.
func (e *Executor) finish(result *Result, start time.Time) *Result {
	result.Duration = time.Since(start)
	if result.Status == StatusValidationFailed {
		e.metrics.ObserveRun(StatusValidationFailed)
	}
	if e.history != nil {
		_ = e.history.Record(&RunRecord{
			ID:        result.ExecutionID,
			Success:   result.Success,
			Status:    result.Status,
			StartedAt: start,
			Duration:  result.Duration,
			Steps:     result.Steps,
		})
	}
	return result
}
