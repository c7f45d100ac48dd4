package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spinje/pflow/internal/ir"
	"github.com/spinje/pflow/internal/registry"
	"github.com/spinje/pflow/internal/store"
	"github.com/spinje/pflow/internal/template"
)

// DefaultMaxDepth bounds sub-workflow nesting.
const DefaultMaxDepth = 10

// Storage-isolation modes for sub-workflow execution.
const (
	StorageMapped   = "mapped"
	StorageScoped   = "scoped"
	StorageIsolated = "isolated"
	StorageShared   = "shared"
)

// SubWorkflowNode executes another workflow as a node. The child is loaded
// by registry name, file path, or inline IR, compiled with the parent's
// compiler, and run against a child store built per the chosen
// storage-isolation mode.
//
// Parameters:
//   - workflow_name | workflow_ref | workflow_ir (exactly one)
//   - param_mapping: child input name -> literal or template in parent scope
//   - output_mapping: child key -> parent key (ignored in shared mode)
//   - storage_mode: mapped (default), scoped, isolated, shared
//   - max_depth: nesting bound (default 10)
//   - error_action: action returned on child failure (default "error")
//   - scope_prefix: parent-key prefix for scoped mode (default "child_")
type SubWorkflowNode struct {
	BaseNode
	compiler  *Compiler
	workflows *registry.WorkflowStore
}

// subPrep carries everything Prep loaded for Exec.
type subPrep struct {
	workflow    *ir.Workflow
	path        string
	childParams map[string]any
	storageMode string
	depth       int
	stack       []string
	parent      map[string]any
}

// subExec is the child run outcome Exec hands to Post.
type subExec struct {
	err         error
	childStore  map[string]any
	storageMode string
}

// Prep validates the node's configuration, loads the child IR, checks the
// depth and cycle bounds, and resolves the parameter mapping against the
// parent scope.
func (n *SubWorkflowNode) Prep(ctx context.Context, shared store.View) (any, error) {
	params := n.Params()
	name, _ := params["workflow_name"].(string)
	ref, _ := params["workflow_ref"].(string)
	inline, _ := params["workflow_ir"].(map[string]any)

	sources := 0
	for _, set := range []bool{name != "", ref != "", inline != nil} {
		if set {
			sources++
		}
	}
	if sources == 0 {
		return nil, &CompositionError{Message: "sub-workflow requires one of workflow_name, workflow_ref, or workflow_ir"}
	}
	if sources > 1 {
		return nil, &CompositionError{Message: "only one of workflow_name, workflow_ref, or workflow_ir may be set"}
	}

	maxDepth := DefaultMaxDepth
	if v, ok := asInt(params["max_depth"]); ok {
		maxDepth = v
	}
	depth := currentDepth(shared)
	if depth >= maxDepth {
		return nil, &CompositionError{Message: fmt.Sprintf("maximum workflow nesting depth (%d) exceeded", maxDepth)}
	}

	stack := currentStack(shared)
	root := shared.Root()

	var (
		wf   *ir.Workflow
		path string
		err  error
	)
	switch {
	case name != "":
		if n.workflows == nil {
			return nil, &CompositionError{Message: fmt.Sprintf("cannot load workflow %q: no workflow store configured", name)}
		}
		wf, path, err = n.workflows.Load(name)
		if err != nil {
			return nil, fmt.Errorf("load workflow %q: %w", name, err)
		}
	case ref != "":
		path = resolveRef(ref, root)
		wf, err = registry.LoadFile(path)
		if err != nil {
			return nil, err
		}
	default:
		path = "<inline>"
		wf, err = ir.FromMap(inline)
		if err != nil {
			return nil, err
		}
	}

	// Inline workflows have no identity to cycle on; only named and
	// file-referenced workflows participate in cycle detection.
	if path != "<inline>" {
		for _, entry := range stack {
			if entry == path {
				cycle := strings.Join(append(append([]string{}, stack...), path), " -> ")
				return nil, &CompositionError{Message: fmt.Sprintf("circular workflow reference detected: %s", cycle)}
			}
		}
	}

	mapping, _ := params["param_mapping"].(map[string]any)
	childParams, err := resolveParamMapping(mapping, root)
	if err != nil {
		return nil, err
	}

	mode, _ := params["storage_mode"].(string)
	if mode == "" {
		mode = StorageMapped
	}

	return &subPrep{
		workflow:    wf,
		path:        path,
		childParams: childParams,
		storageMode: mode,
		depth:       depth,
		stack:       stack,
		parent:      root,
	}, nil
}

// Exec compiles and runs the child workflow. Child failures are carried in
// the result rather than returned, so Post can apply the error_action.
func (n *SubWorkflowNode) Exec(ctx context.Context, prepRes any) (any, error) {
	prep := prepRes.(*subPrep)

	flow, err := n.compiler.Compile(prep.workflow)
	if err != nil {
		return &subExec{err: fmt.Errorf("compile sub-workflow %s: %w", prep.path, err)}, nil
	}

	childStore, err := n.buildChildStore(prep)
	if err != nil {
		return nil, err
	}

	if runErr := flow.Run(ctx, childStore); runErr != nil {
		return &subExec{err: runErr, childStore: childStore, storageMode: prep.storageMode}, nil
	}
	return &subExec{childStore: childStore, storageMode: prep.storageMode}, nil
}

// Post maps child outputs back into the parent scope on success, or
// records the error and returns the configured error action.
func (n *SubWorkflowNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	prep := prepRes.(*subPrep)
	res := execRes.(*subExec)

	if res.err != nil {
		shared.Set("error", fmt.Sprintf("sub-workflow %s failed: %v", prep.path, res.err))
		// An explicit error_action opts into soft failure; otherwise the
		// child error propagates.
		if action, ok := n.Params()["error_action"].(string); ok && action != "" {
			return action, nil
		}
		return "", fmt.Errorf("sub-workflow %s: %w", prep.path, res.err)
	}

	if res.storageMode != StorageShared {
		mapping, _ := n.Params()["output_mapping"].(map[string]any)
		for childKey, pk := range mapping {
			parentKey, ok := pk.(string)
			if !ok || strings.HasPrefix(parentKey, "_pflow_") {
				continue
			}
			if v, present := res.childStore[childKey]; present {
				shared.Set(parentKey, v)
			}
		}
	}
	return "default", nil
}

// buildChildStore constructs the child shared state for the chosen
// storage-isolation mode. Every mode except shared gets its own map with
// the nesting-control keys stamped in.
func (n *SubWorkflowNode) buildChildStore(prep *subPrep) (map[string]any, error) {
	var child map[string]any

	switch prep.storageMode {
	case StorageMapped:
		child = make(map[string]any, len(prep.childParams))
		for k, v := range prep.childParams {
			child[k] = v
		}
	case StorageIsolated:
		child = make(map[string]any)
		for k, v := range prep.childParams {
			child[k] = v
		}
	case StorageScoped:
		prefix, _ := n.Params()["scope_prefix"].(string)
		if prefix == "" {
			prefix = "child_"
		}
		child = make(map[string]any)
		for k, v := range prep.parent {
			if strings.HasPrefix(k, prefix) && !strings.HasPrefix(k, "_pflow_") {
				child[strings.TrimPrefix(k, prefix)] = v
			}
		}
		for k, v := range prep.childParams {
			child[k] = v
		}
	case StorageShared:
		// Direct alias of the parent state. Opt-in-unsafe: parent and
		// child mutate each other, and output_mapping is skipped.
		return prep.parent, nil
	default:
		return nil, &CompositionError{Message: fmt.Sprintf("invalid storage_mode %q", prep.storageMode)}
	}

	child[store.DepthKey] = prep.depth + 1
	child[store.StackKey] = append(append([]string{}, prep.stack...), prep.path)
	child[store.WorkflowFileKey] = prep.path
	if cb, ok := prep.parent[store.ProgressCallbackKey]; ok {
		child[store.ProgressCallbackKey] = cb
	}
	return child, nil
}

// resolveRef resolves a workflow file path, relative paths anchoring at the
// parent workflow's file location when known.
func resolveRef(ref string, root map[string]any) string {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	if parentFile, ok := root[store.WorkflowFileKey].(string); ok && parentFile != "" && parentFile != "<inline>" {
		return filepath.Clean(filepath.Join(filepath.Dir(parentFile), ref))
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return filepath.Clean(ref)
	}
	return abs
}

// resolveParamMapping evaluates the param_mapping values in the parent
// scope. Templates resolve strictly; non-template values pass through.
func resolveParamMapping(mapping map[string]any, parent map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(mapping))
	resolver := template.NewResolver(template.Strict)
	for childKey, value := range mapping {
		if s, ok := value.(string); ok && template.HasTemplates(s) {
			v, err := resolver.ResolveTemplate(s, parent)
			if err != nil {
				return nil, fmt.Errorf("resolve param_mapping %q: %w", childKey, err)
			}
			resolved[childKey] = v
			continue
		}
		resolved[childKey] = value
	}
	return resolved, nil
}

func currentDepth(shared store.View) int {
	if v, ok := shared.Get(store.DepthKey); ok {
		if d, ok := asInt(v); ok {
			return d
		}
	}
	return 0
}

func currentStack(shared store.View) []string {
	v, ok := shared.Get(store.StackKey)
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
