// Package health tracks tool-server liveness from a discovery source.
// Queries never block on the network: readers only see state already
// collected by the background loop.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgrid/internal/domain"
)

// DiscoverySource reports the tool ids currently advertised by the
// registry endpoint.
type DiscoverySource interface {
	AdvertisedTools(ctx context.Context) ([]string, error)
}

// StateChangeFunc observes one health transition. Callbacks run
// synchronously inside the check loop; panics are recovered and logged so
// a misbehaving observer cannot abort monitoring.
type StateChangeFunc func(info domain.ToolHealthInfo, previous domain.ToolState)

// Options configures a Tracker.
type Options struct {
	Source           DiscoverySource
	Tools            []string
	Essential        []string
	CheckInterval    time.Duration
	FailureThreshold int
	// MarkUnavailableOnDiscoveryError escalates a failed discovery call
	// to UNAVAILABLE instead of UNHEALTHY. Individual tool absence never
	// produces UNAVAILABLE.
	MarkUnavailableOnDiscoveryError bool
	Logger                          *zap.Logger
	Metrics                         domain.Metrics
}

// Tracker runs the periodic discovery check and answers liveness queries
// from in-memory state.
type Tracker struct {
	source           DiscoverySource
	logger           *zap.Logger
	metrics          domain.Metrics
	checkInterval    time.Duration
	failureThreshold int
	markUnavailable  bool
	essential        map[string]struct{}

	mu    sync.RWMutex
	infos map[string]*domain.ToolHealthInfo

	cbMu      sync.Mutex
	callbacks []StateChangeFunc

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	checkInterval := opts.CheckInterval
	if checkInterval <= 0 {
		checkInterval = domain.DefaultCheckIntervalSeconds * time.Second
	}
	failureThreshold := opts.FailureThreshold
	if failureThreshold < 1 {
		failureThreshold = domain.DefaultFailureThreshold
	}

	essential := make(map[string]struct{}, len(opts.Essential))
	for _, id := range opts.Essential {
		essential[id] = struct{}{}
	}

	infos := make(map[string]*domain.ToolHealthInfo, len(opts.Tools))
	for _, id := range opts.Tools {
		infos[id] = &domain.ToolHealthInfo{
			ToolID: id,
			State:  domain.StateInitializing,
		}
	}

	return &Tracker{
		source:           opts.Source,
		logger:           logger.Named("health"),
		metrics:          metrics,
		checkInterval:    checkInterval,
		failureThreshold: failureThreshold,
		markUnavailable:  opts.MarkUnavailableOnDiscoveryError,
		essential:        essential,
		infos:            infos,
	}
}

// Start begins the check loop. Idempotent.
func (t *Tracker) Start() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

// Stop cancels the loop and waits for it to exit, so no check is in
// flight after Stop returns. Idempotent.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.CheckNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow performs one discovery check. Called by the loop every
// interval; exported so startup can prime state before serving.
func (t *Tracker) CheckNow(ctx context.Context) {
	advertised, err := t.source.AdvertisedTools(ctx)
	if ctx.Err() != nil {
		// Shutdown mid-check is a clean early return.
		return
	}
	now := time.Now()
	if err != nil {
		t.recordDiscoveryFailure(now, err)
		return
	}

	present := make(map[string]struct{}, len(advertised))
	for _, id := range advertised {
		present[id] = struct{}{}
	}
	t.recordObservation(now, present)
}

// recordDiscoveryFailure downgrades every monitored tool: absence of
// information is treated as bad news, not no news.
func (t *Tracker) recordDiscoveryFailure(now time.Time, cause error) {
	downgraded := domain.StateUnhealthy
	if t.markUnavailable {
		downgraded = domain.StateUnavailable
	}

	var transitions []transition
	t.mu.Lock()
	for _, info := range t.infos {
		previous := info.State
		info.LastCheck = now
		info.ConsecutiveFailures++
		info.ErrorMessage = "discovery failed: " + cause.Error()
		info.State = downgraded
		if previous != info.State {
			transitions = append(transitions, transition{info: *info, previous: previous})
		}
	}
	t.mu.Unlock()

	t.logger.Warn("discovery check failed", zap.Error(cause))
	t.notify(transitions)
}

func (t *Tracker) recordObservation(now time.Time, present map[string]struct{}) {
	var transitions []transition
	t.mu.Lock()
	for id, info := range t.infos {
		previous := info.State
		info.LastCheck = now

		if _, ok := present[id]; ok {
			info.ConsecutiveFailures = 0
			info.LastSuccess = now
			info.ErrorMessage = ""
			info.State = domain.StateReady
		} else {
			info.ConsecutiveFailures++
			info.ErrorMessage = "tool not advertised"
			// Below the threshold the tool keeps its prior state: new
			// tools get a grace period before being flagged.
			if info.ConsecutiveFailures >= t.failureThreshold {
				info.State = domain.StateUnhealthy
			}
		}

		if previous != info.State {
			transitions = append(transitions, transition{info: *info, previous: previous})
		}
	}
	t.mu.Unlock()

	t.notify(transitions)
}

type transition struct {
	info     domain.ToolHealthInfo
	previous domain.ToolState
}

func (t *Tracker) notify(transitions []transition) {
	if len(transitions) == 0 {
		return
	}
	t.cbMu.Lock()
	callbacks := append([]StateChangeFunc(nil), t.callbacks...)
	t.cbMu.Unlock()

	for _, tr := range transitions {
		t.metrics.ObserveHealthTransition(tr.previous, tr.info.State)
		t.logger.Info("tool state changed",
			zap.String("tool", tr.info.ToolID),
			zap.String("from", string(tr.previous)),
			zap.String("to", string(tr.info.State)))
		for _, callback := range callbacks {
			t.invoke(callback, tr)
		}
	}
}

func (t *Tracker) invoke(callback StateChangeFunc, tr transition) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("state change callback panicked",
				zap.String("tool", tr.info.ToolID), zap.Any("panic", r))
		}
	}()
	callback(tr.info, tr.previous)
}

// OnStateChange registers a callback for every observed transition.
func (t *Tracker) OnStateChange(callback StateChangeFunc) {
	if callback == nil {
		return
	}
	t.cbMu.Lock()
	t.callbacks = append(t.callbacks, callback)
	t.cbMu.Unlock()
}

// IsReady reports whether the last completed check saw the tool present.
// O(1), in-memory only.
func (t *Tracker) IsReady(toolID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.infos[toolID]
	return ok && info.State == domain.StateReady && info.ConsecutiveFailures == 0
}

// State returns the current state for a monitored tool.
func (t *Tracker) State(toolID string) (domain.ToolState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.infos[toolID]
	if !ok {
		return "", false
	}
	return info.State, true
}

// Info returns a copy of the full health record for a monitored tool.
func (t *Tracker) Info(toolID string) (domain.ToolHealthInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.infos[toolID]
	if !ok {
		return domain.ToolHealthInfo{}, false
	}
	return *info, true
}

// AllReady returns the sorted ids of every READY tool.
func (t *Tracker) AllReady() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ready []string
	for id, info := range t.infos {
		if info.State == domain.StateReady {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// EssentialReady reports whether every configured essential tool is READY.
func (t *Tracker) EssentialReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id := range t.essential {
		info, ok := t.infos[id]
		if !ok || info.State != domain.StateReady {
			return false
		}
	}
	return true
}
