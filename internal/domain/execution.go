package domain

import "time"

// ExecutionStatus is the lifecycle status of a remote tool invocation.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
)

// ExecutionContext tracks one remote tool invocation from start to finish.
// Completed contexts are retained briefly for inspection, then dropped.
type ExecutionContext struct {
	ID        string          `json:"execution_id"`
	Context   map[string]any  `json:"context,omitempty"`
	StartTime time.Time       `json:"start_time"`
	Status    ExecutionStatus `json:"status"`
	EndTime   time.Time       `json:"end_time,omitempty"`
	Result    any             `json:"result,omitempty"`
}

// CloneExecutionContext returns a copy whose context map is detached from
// the original.
func CloneExecutionContext(exec ExecutionContext) ExecutionContext {
	cloned := exec
	if exec.Context != nil {
		cloned.Context = make(map[string]any, len(exec.Context))
		for key, value := range exec.Context {
			cloned.Context[key] = value
		}
	}
	return cloned
}
