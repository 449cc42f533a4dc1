package syncer

import (
	"context"
	"time"

	"toolgrid/internal/domain"
)

// StartExecution records a new execution context and announces it.
func (s *Synchronizer) StartExecution(ctx context.Context, executionID string, contextData map[string]any) error {
	const op = "syncer.StartExecution"

	s.execMu.Lock()
	if _, exists := s.executions[executionID]; exists {
		s.execMu.Unlock()
		return domain.E(domain.CodeInvalidArgument, op, "execution id already active", nil)
	}
	execution := &domain.ExecutionContext{
		ID:        executionID,
		Context:   cloneContextMap(contextData),
		StartTime: time.Now(),
		Status:    domain.ExecutionRunning,
	}
	s.executions[executionID] = execution
	s.execMu.Unlock()

	return s.Publish(ctx, domain.ToolEvent{
		Type:     domain.EventExecutionStart,
		ToolID:   executionToolID(contextData, executionID),
		Metadata: executionMetadata(executionID, contextData),
	})
}

// UpdateExecution merges updates into a running execution's context and
// announces the progress.
func (s *Synchronizer) UpdateExecution(ctx context.Context, executionID string, updates map[string]any) error {
	s.execMu.Lock()
	execution, ok := s.executions[executionID]
	if !ok {
		s.execMu.Unlock()
		return domain.ErrExecutionNotFound
	}
	if execution.Context == nil {
		execution.Context = make(map[string]any, len(updates))
	}
	for key, value := range updates {
		execution.Context[key] = value
	}
	contextData := cloneContextMap(execution.Context)
	s.execMu.Unlock()

	return s.Publish(ctx, domain.ToolEvent{
		Type:     domain.EventExecutionUpdate,
		ToolID:   executionToolID(contextData, executionID),
		Metadata: executionMetadata(executionID, updates),
	})
}

// FinishExecution marks an execution completed, announces it, and
// schedules removal of the context after the grace period so recent
// completions stay inspectable without growing unbounded.
func (s *Synchronizer) FinishExecution(ctx context.Context, executionID string, result any) error {
	s.execMu.Lock()
	execution, ok := s.executions[executionID]
	if !ok {
		s.execMu.Unlock()
		return domain.ErrExecutionNotFound
	}
	execution.Status = domain.ExecutionCompleted
	execution.EndTime = time.Now()
	execution.Result = result
	contextData := cloneContextMap(execution.Context)

	s.reapers[executionID] = time.AfterFunc(s.executionGrace, func() {
		s.execMu.Lock()
		delete(s.executions, executionID)
		delete(s.reapers, executionID)
		s.execMu.Unlock()
	})
	s.execMu.Unlock()

	return s.Publish(ctx, domain.ToolEvent{
		Type:     domain.EventExecutionFinish,
		ToolID:   executionToolID(contextData, executionID),
		Metadata: executionMetadata(executionID, map[string]any{"result": result}),
	})
}

// Execution returns a copy of a live (or recently completed) execution.
func (s *Synchronizer) Execution(executionID string) (domain.ExecutionContext, bool) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	execution, ok := s.executions[executionID]
	if !ok {
		return domain.ExecutionContext{}, false
	}
	return domain.CloneExecutionContext(*execution), true
}

// ActiveExecutions returns the ids of executions still in the ledger.
func (s *Synchronizer) ActiveExecutions() []string {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	ids := make([]string, 0, len(s.executions))
	for id := range s.executions {
		ids = append(ids, id)
	}
	return ids
}

func cloneContextMap(contextData map[string]any) map[string]any {
	if contextData == nil {
		return nil
	}
	cloned := make(map[string]any, len(contextData))
	for key, value := range contextData {
		cloned[key] = value
	}
	return cloned
}

// executionToolID resolves the tool an execution belongs to, falling back
// to the execution id when the context does not name one.
func executionToolID(contextData map[string]any, executionID string) string {
	if toolID, ok := contextData["tool_id"].(string); ok && toolID != "" {
		return toolID
	}
	return executionID
}

func executionMetadata(executionID string, data map[string]any) map[string]any {
	metadata := map[string]any{"execution_id": executionID}
	for key, value := range data {
		if key == "execution_id" {
			continue
		}
		metadata[key] = value
	}
	return metadata
}
