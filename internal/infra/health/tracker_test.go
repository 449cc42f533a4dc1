package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
)

type fakeDiscovery struct {
	mu    sync.Mutex
	tools []string
	err   error
	calls int
}

func (f *fakeDiscovery) AdvertisedTools(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.tools...), nil
}

func (f *fakeDiscovery) set(tools []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
	f.err = err
}

func newTestTracker(source DiscoverySource, tools, essential []string) *Tracker {
	return NewTracker(Options{
		Source:           source,
		Tools:            tools,
		Essential:        essential,
		CheckInterval:    time.Hour, // tests drive checks explicitly
		FailureThreshold: 3,
		Logger:           zap.NewNop(),
	})
}

func TestTracker_PresentToolBecomesReady(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"browser"}}
	tracker := newTestTracker(discovery, []string{"browser", "search"}, nil)

	require.False(t, tracker.IsReady("browser"))

	tracker.CheckNow(context.Background())

	require.True(t, tracker.IsReady("browser"))
	require.False(t, tracker.IsReady("search"))

	state, ok := tracker.State("search")
	require.True(t, ok)
	require.Equal(t, domain.StateInitializing, state)

	info, ok := tracker.Info("browser")
	require.True(t, ok)
	require.Zero(t, info.ConsecutiveFailures)
	require.False(t, info.LastSuccess.IsZero())
}

func TestTracker_UnhealthyExactlyAtThreshold(t *testing.T) {
	discovery := &fakeDiscovery{}
	tracker := newTestTracker(discovery, []string{"browser"}, nil)

	for i := 1; i <= 2; i++ {
		tracker.CheckNow(context.Background())
		state, _ := tracker.State("browser")
		require.Equal(t, domain.StateInitializing, state, "check %d must stay in grace period", i)
	}

	tracker.CheckNow(context.Background())
	state, _ := tracker.State("browser")
	require.Equal(t, domain.StateUnhealthy, state)

	info, _ := tracker.Info("browser")
	require.Equal(t, 3, info.ConsecutiveFailures)
}

func TestTracker_ReadyToolKeepsStateBelowThreshold(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"browser"}}
	tracker := newTestTracker(discovery, []string{"browser"}, nil)
	tracker.CheckNow(context.Background())
	require.True(t, tracker.IsReady("browser"))

	discovery.set(nil, nil)
	tracker.CheckNow(context.Background())
	tracker.CheckNow(context.Background())

	// Two misses: still READY per state, but not ready to callers since
	// failures are nonzero.
	state, _ := tracker.State("browser")
	require.Equal(t, domain.StateReady, state)
	require.False(t, tracker.IsReady("browser"))

	tracker.CheckNow(context.Background())
	state, _ = tracker.State("browser")
	require.Equal(t, domain.StateUnhealthy, state)
}

func TestTracker_RecoveryResetsFailures(t *testing.T) {
	discovery := &fakeDiscovery{}
	tracker := newTestTracker(discovery, []string{"browser"}, nil)
	for i := 0; i < 3; i++ {
		tracker.CheckNow(context.Background())
	}
	state, _ := tracker.State("browser")
	require.Equal(t, domain.StateUnhealthy, state)

	discovery.set([]string{"browser"}, nil)
	tracker.CheckNow(context.Background())

	require.True(t, tracker.IsReady("browser"))
	info, _ := tracker.Info("browser")
	require.Zero(t, info.ConsecutiveFailures)
	require.Empty(t, info.ErrorMessage)
}

func TestTracker_DiscoveryFailureDowngradesAll(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"browser", "search"}}
	tracker := newTestTracker(discovery, []string{"browser", "search"}, nil)
	tracker.CheckNow(context.Background())
	require.Len(t, tracker.AllReady(), 2)

	discovery.set(nil, errors.New("registry unreachable"))
	tracker.CheckNow(context.Background())

	for _, id := range []string{"browser", "search"} {
		state, _ := tracker.State(id)
		require.Equal(t, domain.StateUnhealthy, state)
		info, _ := tracker.Info(id)
		require.Contains(t, info.ErrorMessage, "registry unreachable")
	}
}

func TestTracker_DiscoveryFailureMarksUnavailableWhenConfigured(t *testing.T) {
	discovery := &fakeDiscovery{err: errors.New("dial timeout")}
	tracker := NewTracker(Options{
		Source:                          discovery,
		Tools:                           []string{"browser"},
		CheckInterval:                   time.Hour,
		FailureThreshold:                3,
		MarkUnavailableOnDiscoveryError: true,
		Logger:                          zap.NewNop(),
	})

	tracker.CheckNow(context.Background())
	state, _ := tracker.State("browser")
	require.Equal(t, domain.StateUnavailable, state)
}

func TestTracker_IndividualAbsenceNeverUnavailable(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"other"}}
	tracker := NewTracker(Options{
		Source:                          discovery,
		Tools:                           []string{"browser"},
		CheckInterval:                   time.Hour,
		FailureThreshold:                1,
		MarkUnavailableOnDiscoveryError: true,
		Logger:                          zap.NewNop(),
	})

	tracker.CheckNow(context.Background())
	state, _ := tracker.State("browser")
	require.Equal(t, domain.StateUnhealthy, state)
}

func TestTracker_EssentialReady(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"browser"}}
	tracker := newTestTracker(discovery, []string{"browser", "search"}, []string{"browser", "search"})

	tracker.CheckNow(context.Background())
	require.False(t, tracker.EssentialReady())

	discovery.set([]string{"browser", "search"}, nil)
	tracker.CheckNow(context.Background())
	require.True(t, tracker.EssentialReady())
	require.Equal(t, []string{"browser", "search"}, tracker.AllReady())
}

func TestTracker_CallbacksObserveTransitions(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"browser"}}
	tracker := newTestTracker(discovery, []string{"browser"}, nil)

	var mu sync.Mutex
	var seen []string
	tracker.OnStateChange(func(info domain.ToolHealthInfo, previous domain.ToolState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(previous)+"->"+string(info.State))
	})
	// A panicking callback must not abort the loop or later callbacks.
	tracker.OnStateChange(func(domain.ToolHealthInfo, domain.ToolState) {
		panic("observer bug")
	})

	tracker.CheckNow(context.Background())
	tracker.CheckNow(context.Background()) // no transition, no callback

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"INITIALIZING->READY"}, seen)
}

func TestTracker_StartStopIdempotent(t *testing.T) {
	discovery := &fakeDiscovery{tools: []string{"browser"}}
	tracker := NewTracker(Options{
		Source:           discovery,
		Tools:            []string{"browser"},
		CheckInterval:    10 * time.Millisecond,
		FailureThreshold: 3,
		Logger:           zap.NewNop(),
	})

	tracker.Start()
	tracker.Start()

	require.Eventually(t, func() bool {
		return tracker.IsReady("browser")
	}, time.Second, 5*time.Millisecond)

	tracker.Stop()
	tracker.Stop()

	discovery.mu.Lock()
	calls := discovery.calls
	discovery.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	discovery.mu.Lock()
	defer discovery.mu.Unlock()
	require.Equal(t, calls, discovery.calls, "no checks after Stop returns")
}
