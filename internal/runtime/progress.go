package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spinje/pflow/internal/store"
)

// ProgressEvent identifies a step in the execution lifecycle.
type ProgressEvent string

const (
	EventWorkflowStart ProgressEvent = "workflow_start"
	EventNodeStart     ProgressEvent = "node_start"
	EventNodeComplete  ProgressEvent = "node_complete"
	EventNodeCached    ProgressEvent = "node_cached"
	EventNodeError     ProgressEvent = "node_error"
)

// ProgressFunc receives execution progress. Implementations must tolerate
// being called from nested sub-workflow runs (depth > 0). Panics are
// suppressed by the runtime.
type ProgressFunc func(nodeID string, event ProgressEvent, durationMS float64, depth int)

// Event is the bus form of a progress notification.
type Event struct {
	ID          string        `json:"id"`
	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id,omitempty"`
	Type        ProgressEvent `json:"type"`
	DurationMS  float64       `json:"duration_ms,omitempty"`
	Depth       int           `json:"depth"`
	Timestamp   time.Time     `json:"timestamp"`
}

// EventHandler consumes bus events.
type EventHandler func(Event)

// EventBus fans execution events out to subscribers.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for all future events.
func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers event to every subscriber.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// NewEvent stamps a bus event with an id and timestamp.
func NewEvent(executionID, nodeID string, typ ProgressEvent, durationMS float64, depth int) Event {
	return Event{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Type:        typ,
		DurationMS:  durationMS,
		Depth:       depth,
		Timestamp:   time.Now(),
	}
}

// emitProgress invokes the progress callback installed in the shared
// state, if any. Callback panics never break execution.
func emitProgress(root map[string]any, nodeID string, event ProgressEvent, durationMS float64) {
	cb, ok := root[store.ProgressCallbackKey].(ProgressFunc)
	if !ok || cb == nil {
		return
	}
	depth := 0
	if d, ok := asInt(root[store.DepthKey]); ok {
		depth = d
	}
	defer func() { _ = recover() }()
	cb(nodeID, event, durationMS, depth)
}
