package runtime

import (
	"context"

	"go.uber.org/zap"
)

// successor is one outgoing edge candidate under a given action.
type successor struct {
	to   string
	when string
}

// Flow is a compiled, executable workflow: wrapped nodes plus a successor
// table keyed by (node, action).
type Flow struct {
	Start  string
	Nodes  map[string]*WrappedNode
	succ   map[string]map[string][]successor
	logger *zap.Logger
}

// Run drives the flow from the start node, following the action returned
// by each node's post step. Execution is strictly sequential; an empty
// successor table for an action terminates the run normally.
func (f *Flow) Run(ctx context.Context, root map[string]any) error {
	current := f.Start
	for current != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := f.Nodes[current]
		if !ok {
			return &CompositionError{Message: "flow references unknown node " + current}
		}
		action, err := node.Run(ctx, root)
		if err != nil {
			return err
		}
		current = f.next(current, action, root)
	}
	return nil
}

// next selects the successor for (from, action): the first candidate in
// declaration order whose when-condition is absent or truthy. A condition
// that fails to compile or evaluate is treated as not taken.
func (f *Flow) next(from, action string, root map[string]any) string {
	for _, s := range f.succ[from][action] {
		if s.when == "" {
			return s.to
		}
		ok, err := evalCondition(s.when, root)
		if err != nil {
			f.logger.Warn("edge condition error, edge not taken",
				zap.String("from", from), zap.String("to", s.to), zap.Error(err))
			continue
		}
		if ok {
			return s.to
		}
	}
	return ""
}
