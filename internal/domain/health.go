package domain

import "time"

// ToolState is the liveness state of one monitored tool server.
type ToolState string

const (
	StateInitializing ToolState = "INITIALIZING"
	StateReady        ToolState = "READY"
	StateUnhealthy    ToolState = "UNHEALTHY"
	StateUnavailable  ToolState = "UNAVAILABLE"
)

// ToolHealthInfo is the tracked health record for a single tool id.
// Mutated only by the health tracker's loop; callers receive copies.
type ToolHealthInfo struct {
	ToolID              string    `json:"tool_id"`
	State               ToolState `json:"state"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}
