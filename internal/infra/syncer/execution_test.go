package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
	"toolgrid/internal/infra/bus"
)

func TestExecutionLifecycle(t *testing.T) {
	shared := bus.NewMemBus(bus.MemBusConfig{})
	defer shared.Close()

	coordinator := newTestSynchronizer(t, "svc-a", shared)
	observer := newTestSynchronizer(t, "svc-b", shared)

	var mu sync.Mutex
	var stages []domain.EventType
	for _, eventType := range []domain.EventType{
		domain.EventExecutionStart, domain.EventExecutionUpdate, domain.EventExecutionFinish,
	} {
		eventType := eventType
		observer.Subscribe(eventType, func(event domain.ToolEvent) {
			mu.Lock()
			stages = append(stages, event.Type)
			mu.Unlock()
		})
	}

	ctx := context.Background()
	require.NoError(t, coordinator.StartExecution(ctx, "exec-1", map[string]any{
		"tool_id": "browser",
		"task":    "open page",
	}))

	execution, ok := coordinator.Execution("exec-1")
	require.True(t, ok)
	require.Equal(t, domain.ExecutionRunning, execution.Status)
	require.Equal(t, "open page", execution.Context["task"])

	require.NoError(t, coordinator.UpdateExecution(ctx, "exec-1", map[string]any{
		"progress": "50%",
	}))
	execution, _ = coordinator.Execution("exec-1")
	require.Equal(t, "50%", execution.Context["progress"])
	require.Equal(t, "open page", execution.Context["task"])

	require.NoError(t, coordinator.FinishExecution(ctx, "exec-1", "done"))
	execution, ok = coordinator.Execution("exec-1")
	require.True(t, ok, "finished execution stays inspectable during grace period")
	require.Equal(t, domain.ExecutionCompleted, execution.Status)
	require.Equal(t, "done", execution.Result)
	require.False(t, execution.EndTime.IsZero())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stages) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, []domain.EventType{
		domain.EventExecutionStart, domain.EventExecutionUpdate, domain.EventExecutionFinish,
	}, stages)
	mu.Unlock()
}

func TestExecutionRemovedAfterGracePeriod(t *testing.T) {
	shared := bus.NewMemBus(bus.MemBusConfig{})
	defer shared.Close()

	s := New(Options{
		ServiceID:         "svc-a",
		Bus:               shared,
		HeartbeatInterval: time.Hour,
		ReconcileInterval: time.Hour,
		ExecutionGrace:    20 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	require.NoError(t, s.Start())
	defer s.Stop()

	ctx := context.Background()
	require.NoError(t, s.StartExecution(ctx, "exec-1", nil))
	require.NoError(t, s.FinishExecution(ctx, "exec-1", nil))

	require.Eventually(t, func() bool {
		_, ok := s.Execution("exec-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, s.ActiveExecutions())
}

func TestExecutionErrors(t *testing.T) {
	shared := bus.NewMemBus(bus.MemBusConfig{})
	defer shared.Close()

	s := newTestSynchronizer(t, "svc-a", shared)
	ctx := context.Background()

	require.ErrorIs(t, s.UpdateExecution(ctx, "absent", nil), domain.ErrExecutionNotFound)
	require.ErrorIs(t, s.FinishExecution(ctx, "absent", nil), domain.ErrExecutionNotFound)

	require.NoError(t, s.StartExecution(ctx, "exec-1", nil))
	err := s.StartExecution(ctx, "exec-1", nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "already active")
}
