package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of ToolEvent on the shared bus.
type EventType string

const (
	EventRegister        EventType = "register"
	EventUnregister      EventType = "unregister"
	EventUpdate          EventType = "update"
	EventStatusChange    EventType = "status_change"
	EventExecutionStart  EventType = "execution_start"
	EventExecutionUpdate EventType = "execution_update"
	EventExecutionFinish EventType = "execution_finish"
)

// ToolEvent is the wire payload exchanged on the tool event topic.
// Never mutated after construction. Delivery is FIFO per publisher
// connection only; receivers must not assume global ordering.
type ToolEvent struct {
	Type          EventType         `json:"event_type"`
	ToolID        string            `json:"tool_id"`
	ToolSpec      *ServerDefinition `json:"tool_spec,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	SourceService string            `json:"source_service"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Validate checks the structural requirements for publishing.
func (e ToolEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event_type is required")
	}
	if strings.TrimSpace(e.ToolID) == "" {
		return fmt.Errorf("tool_id is required")
	}
	if strings.TrimSpace(e.SourceService) == "" {
		return fmt.Errorf("source_service is required")
	}
	switch e.Type {
	case EventRegister, EventUpdate:
		if e.ToolSpec == nil {
			return fmt.Errorf("%s event requires tool_spec", e.Type)
		}
	case EventUnregister, EventStatusChange,
		EventExecutionStart, EventExecutionUpdate, EventExecutionFinish:
		// tool_spec optional
	default:
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
	return nil
}
