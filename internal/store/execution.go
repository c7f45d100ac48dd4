package store

import "encoding/json"

// ExecutionState is the typed form of the __execution__ checkpoint section.
// It lives inside the shared-state map so any persistence of the shared
// state carries the checkpoint with it.
type ExecutionState struct {
	CompletedNodes []string           `json:"completed_nodes"`
	NodeActions    map[string]string  `json:"node_actions"`
	NodeHashes     map[string]string  `json:"node_hashes"`
	NodeDurations  map[string]float64 `json:"node_durations,omitempty"`
	FailedNode     string             `json:"failed_node,omitempty"`

	// cached tracks checkpoint hits for the current run only; it is not
	// part of the persisted checkpoint shape.
	cached map[string]bool
}

// NewExecutionState creates an empty checkpoint section.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		CompletedNodes: []string{},
		NodeActions:    map[string]string{},
		NodeHashes:     map[string]string{},
		NodeDurations:  map[string]float64{},
	}
}

// ExecutionFrom returns the execution state stored in root, installing a
// fresh one when absent. A map form (as produced by JSON round-trips of a
// persisted shared state) is decoded back into the typed struct.
func ExecutionFrom(root map[string]any) *ExecutionState {
	switch v := root[ExecutionKey].(type) {
	case *ExecutionState:
		return v
	case map[string]any:
		es := NewExecutionState()
		if b, err := json.Marshal(v); err == nil {
			_ = json.Unmarshal(b, es)
		}
		if es.NodeActions == nil {
			es.NodeActions = map[string]string{}
		}
		if es.NodeHashes == nil {
			es.NodeHashes = map[string]string{}
		}
		if es.NodeDurations == nil {
			es.NodeDurations = map[string]float64{}
		}
		if es.CompletedNodes == nil {
			es.CompletedNodes = []string{}
		}
		root[ExecutionKey] = es
		return es
	default:
		es := NewExecutionState()
		root[ExecutionKey] = es
		return es
	}
}

// IsCompleted reports whether nodeID has a checkpoint entry.
func (e *ExecutionState) IsCompleted(nodeID string) bool {
	for _, id := range e.CompletedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// ActionFor returns the action recorded for a completed node.
func (e *ExecutionState) ActionFor(nodeID string) string {
	return e.NodeActions[nodeID]
}

// HashFor returns the config hash recorded for a completed node.
func (e *ExecutionState) HashFor(nodeID string) string {
	return e.NodeHashes[nodeID]
}

// MarkCompleted records a successful node execution. completed_nodes is
// append-only; a node re-run after a hash change keeps a single entry with
// refreshed action and hash.
func (e *ExecutionState) MarkCompleted(nodeID, action, hash string, durationMS float64) {
	if !e.IsCompleted(nodeID) {
		e.CompletedNodes = append(e.CompletedNodes, nodeID)
	}
	e.NodeActions[nodeID] = action
	e.NodeHashes[nodeID] = hash
	e.NodeDurations[nodeID] = durationMS
	if e.FailedNode == nodeID {
		e.FailedNode = ""
	}
}

// MarkCached records a checkpoint hit for the current run.
func (e *ExecutionState) MarkCached(nodeID string) {
	if e.cached == nil {
		e.cached = make(map[string]bool)
	}
	e.cached[nodeID] = true
}

// WasCached reports whether nodeID short-circuited via checkpoint during
// the current run.
func (e *ExecutionState) WasCached(nodeID string) bool {
	return e.cached[nodeID]
}

// MarkFailed records the node whose execution raised the current error.
func (e *ExecutionState) MarkFailed(nodeID string) {
	e.FailedNode = nodeID
}

// BeginRun clears per-run bookkeeping (cache hits, failed node) while
// preserving the persisted checkpoint entries.
func (e *ExecutionState) BeginRun() {
	e.cached = nil
	e.FailedNode = ""
}
