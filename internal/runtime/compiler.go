package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spinje/pflow/internal/ir"
	"github.com/spinje/pflow/internal/registry"
	"github.com/spinje/pflow/internal/store"
	"github.com/spinje/pflow/internal/template"
)

// Compiler turns workflow IR into an executable Flow. Compilation is
// declarative and idempotent: the same IR can be recompiled after a repair
// pass without side effects.
type Compiler struct {
	Registry  *NodeRegistry
	Workflows *registry.WorkflowStore
	Logger    *zap.Logger
	Metrics   *Metrics
	Mode      template.Mode
}

// Compile validates wf and builds the flow of wrapped nodes. All
// validation errors are collected and returned together as
// ir.ValidationErrors.
func (c *Compiler) Compile(wf *ir.Workflow) (*Flow, error) {
	wf = wf.Normalized()

	validator := &ir.Validator{}
	if c.Registry != nil {
		validator.KnownType = c.Registry.Has
	}
	if errs := validator.Validate(wf); len(errs) > 0 {
		return nil, errs
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	nodes := make(map[string]*WrappedNode, len(wf.Nodes))
	for _, spec := range wf.Nodes {
		inner, def, err := c.construct(spec)
		if err != nil {
			return nil, err
		}

		params := make(map[string]any, len(spec.Params)+2)
		for k, v := range spec.Params {
			params[k] = v
		}
		if server, tool, ok := ir.SplitMCPType(spec.Type); ok {
			params[store.MCPServerKey] = server
			params[store.MCPToolKey] = tool
		}
		inner.SetParams(params)

		nodes[spec.ID] = &WrappedNode{
			inner:         inner,
			ID:            spec.ID,
			Type:          spec.Type,
			initialParams: params,
			paramTypes:    def.ParamTypes,
			mode:          c.Mode,
			namespacing:   wf.Namespacing(),
			logger:        logger,
			metrics:       c.Metrics,
		}
	}

	succ := make(map[string]map[string][]successor)
	for _, e := range wf.Edges {
		byAction, ok := succ[e.From]
		if !ok {
			byAction = make(map[string][]successor)
			succ[e.From] = byAction
		}
		byAction[e.Action] = append(byAction[e.Action], successor{to: e.To, when: e.When})
	}

	return &Flow{
		Start:  wf.Start(),
		Nodes:  nodes,
		succ:   succ,
		logger: logger,
	}, nil
}

// construct builds the inner node for a spec. The reserved type "workflow"
// yields the sub-workflow executor wired back to this compiler; mcp-* types
// build the generic MCP node registered under "mcp"; everything else is a
// registry lookup.
func (c *Compiler) construct(spec ir.NodeSpec) (Node, Definition, error) {
	if spec.Type == "workflow" {
		return &SubWorkflowNode{compiler: c, workflows: c.Workflows}, Definition{}, nil
	}
	if c.Registry == nil {
		return nil, Definition{}, fmt.Errorf("node %q: no node registry configured", spec.ID)
	}
	lookup := spec.Type
	if _, _, ok := ir.SplitMCPType(spec.Type); ok {
		lookup = "mcp"
	}
	node, def, err := c.Registry.Build(lookup)
	if err != nil {
		return nil, Definition{}, &ErrorRecord{
			Category:   CategoryMissingResource,
			Message:    fmt.Sprintf("node %q: %v", spec.ID, err),
			NodeID:     spec.ID,
			UserAction: "Register the node type or fix the type name.",
		}
	}
	return node, def, nil
}
