package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spinje/pflow/internal/store"
	"github.com/spinje/pflow/internal/template"
)

// WrappedNode is the instrumenting shell around every executing node. It
// resolves templates, applies namespacing, honors checkpoints, captures
// LLM usage, and reports progress and metrics.
type WrappedNode struct {
	inner       Node
	ID          string
	Type        string
	paramTypes  map[string]string
	mode        template.Mode
	namespacing bool
	logger      *zap.Logger
	metrics     *Metrics

	// initialParams is the node's declared (unresolved) configuration.
	// It is re-resolved on every run so retries see the then-current
	// shared state instead of a stale snapshot.
	initialParams map[string]any
}

// view returns the state surface the inner node sees.
func (w *WrappedNode) view(root map[string]any) store.View {
	if w.namespacing {
		return store.NewNamespaced(root, w.ID)
	}
	return store.RootView(root)
}

// resolveParams resolves the node's declared params against the shared
// state. Parameters with declared object/array types go through JSON
// auto-parsing. Special keys pass through untouched.
func (w *WrappedNode) resolveParams(resolver *template.Resolver, root map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(w.initialParams))
	for name, value := range w.initialParams {
		if store.IsSpecialKey(name) {
			resolved[name] = value
			continue
		}
		out, err := resolver.ResolveParam(name, value, w.paramTypes[name], root)
		if err != nil {
			return nil, fmt.Errorf("resolving param %q: %w", name, err)
		}
		resolved[name] = out
	}
	return resolved, nil
}

// Run executes the node against the shared state and returns the action
// chosen by its post step. Already-completed nodes whose config hash still
// matches are skipped and their recorded action replayed.
func (w *WrappedNode) Run(ctx context.Context, root map[string]any) (string, error) {
	exec := store.ExecutionFrom(root)
	start := time.Now()

	if _, ok := root[store.LLMCallsKey]; !ok {
		root[store.LLMCallsKey] = []any{}
	}

	resolver := template.NewResolver(w.mode)
	resolved, err := w.resolveParams(resolver, root)
	if err != nil {
		exec.MarkFailed(w.ID)
		emitProgress(root, w.ID, EventNodeError, 0)
		w.metrics.ObserveNode(w.Type, "failed", time.Since(start).Seconds())
		return "", fmt.Errorf("node %q: %w", w.ID, err)
	}
	if len(resolver.Errors) > 0 {
		recordTemplateErrors(root, w.ID, resolver.Errors)
	}

	hash := ConfigHash(w.Type, resolved)
	if exec.IsCompleted(w.ID) && exec.HashFor(w.ID) == hash {
		exec.MarkCached(w.ID)
		emitProgress(root, w.ID, EventNodeCached, 0)
		w.metrics.ObserveNode(w.Type, "cached", 0)
		w.logger.Debug("checkpoint hit, skipping node",
			zap.String("node_id", w.ID), zap.String("hash", hash))
		return exec.ActionFor(w.ID), nil
	}

	w.inner.SetParams(resolved)
	defer w.inner.SetParams(w.initialParams)

	emitProgress(root, w.ID, EventNodeStart, 0)
	w.logger.Debug("node start", zap.String("node_id", w.ID), zap.String("type", w.Type))

	view := w.view(root)
	action, err := w.runLifecycle(ctx, view)
	durationMS := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		exec.MarkFailed(w.ID)
		emitProgress(root, w.ID, EventNodeError, durationMS)
		w.metrics.ObserveNode(w.Type, "failed", durationMS/1000)
		w.logger.Warn("node failed", zap.String("node_id", w.ID),
			zap.Float64("duration_ms", durationMS), zap.Error(err))
		return "", fmt.Errorf("node %q: %w", w.ID, err)
	}

	w.captureLLMUsage(root, resolved, durationMS)
	w.checkLLMJSONOutput(root, resolved)

	exec.MarkCompleted(w.ID, action, hash, durationMS)
	emitProgress(root, w.ID, EventNodeComplete, durationMS)
	w.metrics.ObserveNode(w.Type, "completed", durationMS/1000)
	w.logger.Debug("node complete", zap.String("node_id", w.ID),
		zap.String("action", action), zap.Float64("duration_ms", durationMS))
	return action, nil
}

// runLifecycle drives prep → exec → post on the inner node.
func (w *WrappedNode) runLifecycle(ctx context.Context, view store.View) (string, error) {
	prepRes, err := w.inner.Prep(ctx, view)
	if err != nil {
		return "", fmt.Errorf("prep: %w", err)
	}
	execRes, err := w.inner.Exec(ctx, prepRes)
	if err != nil {
		return "", fmt.Errorf("exec: %w", err)
	}
	action, err := w.inner.Post(ctx, view, prepRes, execRes)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	if action == "" {
		action = "default"
	}
	return action, nil
}

// recordTemplateErrors merges permissive-mode resolution failures into the
// __template_errors__ section keyed by node id.
func recordTemplateErrors(root map[string]any, nodeID string, errs []*template.ResolutionError) {
	section, ok := root[store.TemplateErrorsKey].(map[string]any)
	if !ok {
		section = make(map[string]any)
		root[store.TemplateErrorsKey] = section
	}
	records := make([]any, 0, len(errs))
	for _, e := range errs {
		records = append(records, map[string]any{"variable": e.Variable, "message": e.Message})
	}
	section[nodeID] = records
}

// nodeOutput reads a key the node may have written, checking root first
// (namespacing off) and then the node's namespace.
func (w *WrappedNode) nodeOutput(root map[string]any, key string) any {
	if v, ok := root[key]; ok {
		return v
	}
	if ns, ok := root[w.ID].(map[string]any); ok {
		return ns[key]
	}
	return nil
}

// captureLLMUsage copies an llm_usage record produced by the node into the
// append-only __llm_calls__ list, annotated with the node id, duration,
// and the prompt that produced it.
func (w *WrappedNode) captureLLMUsage(root map[string]any, resolved map[string]any, durationMS float64) {
	usage, ok := w.nodeOutput(root, "llm_usage").(map[string]any)
	if !ok || len(usage) == 0 {
		return
	}

	record := make(map[string]any, len(usage)+3)
	for k, v := range usage {
		record[k] = v
	}
	record["node_id"] = w.ID
	record["duration_ms"] = durationMS
	if prompt := w.findPrompt(root, resolved); prompt != "" {
		record["prompt"] = prompt
	}

	calls, _ := root[store.LLMCallsKey].([]any)
	root[store.LLMCallsKey] = append(calls, record)
}

// findPrompt locates the prompt that drove an LLM node: root state first,
// then the node's namespace, then its resolved params.
func (w *WrappedNode) findPrompt(root map[string]any, resolved map[string]any) string {
	if p, ok := root["prompt"].(string); ok && p != "" {
		return p
	}
	if ns, ok := root[w.ID].(map[string]any); ok {
		if p, ok := ns["prompt"].(string); ok && p != "" {
			return p
		}
	}
	if p, ok := resolved["prompt"].(string); ok {
		return p
	}
	return ""
}

// checkLLMJSONOutput warns when a prompt asked for JSON but the response
// came back as plain text, a common weak-model failure.
func (w *WrappedNode) checkLLMJSONOutput(root map[string]any, resolved map[string]any) {
	prompt := w.findPrompt(root, resolved)
	if prompt == "" || !strings.Contains(strings.ToLower(prompt), "json") {
		return
	}
	response, ok := w.nodeOutput(root, "response").(string)
	if !ok {
		return
	}
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return
	}

	warning := fmt.Sprintf(
		"node %q requested JSON but the response appears to be plain text (starts with: %.80s)",
		w.ID, trimmed)
	warnings, ok := root[store.WarningsKey].(map[string]any)
	if !ok {
		warnings = make(map[string]any)
		root[store.WarningsKey] = warnings
	}
	warnings[w.ID] = warning
	w.logger.Warn("suspect LLM JSON output", zap.String("node_id", w.ID))
}
