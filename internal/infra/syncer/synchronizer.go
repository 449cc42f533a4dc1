// Package syncer replicates tool registrations across service instances
// by folding events from the shared bus into a local cache. Replicated
// state is eventually consistent: per tool id the newest timestamp wins,
// and events older than the stored version are rejected rather than
// silently overwriting.
package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
	"toolgrid/internal/infra/bus"
	"toolgrid/internal/infra/cache"
)

// ResyncFunc fetches the authoritative tool set, used by the
// reconciliation pass when local state is suspected stale.
type ResyncFunc func(ctx context.Context) (map[string]domain.ServerDefinition, error)

// HandlerFunc observes events received from peers.
type HandlerFunc func(event domain.ToolEvent)

// Heartbeat is the liveness payload written to the shared TTL slot.
type Heartbeat struct {
	ServiceID       string    `json:"service_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	CachedToolCount int       `json:"cached_tool_count"`
}

// Options configures a Synchronizer.
type Options struct {
	ServiceID         string
	Bus               bus.Bus
	Slots             *cache.BoltStore
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	ReconcileInterval time.Duration
	// StaleAfter is how long without any received event before the
	// reconciliation pass considers local state suspect. Deliberately
	// conservative.
	StaleAfter     time.Duration
	ExecutionGrace time.Duration
	Resync         ResyncFunc
	Logger         *zap.Logger
	Metrics        domain.Metrics
}

type cachedSpec struct {
	spec    domain.ServerDefinition
	version time.Time
}

// Synchronizer maintains the replicated tool cache and the execution
// ledger for one service instance.
type Synchronizer struct {
	serviceID string
	bus       bus.Bus
	slots     *cache.BoltStore
	logger    *zap.Logger
	metrics   domain.Metrics

	heartbeatInterval time.Duration
	heartbeatTTL      time.Duration
	reconcileInterval time.Duration
	staleAfter        time.Duration
	executionGrace    time.Duration
	resync            ResyncFunc

	mu        sync.RWMutex
	tools     map[string]cachedSpec
	lastEvent time.Time

	handlerMu sync.Mutex
	handlers  map[domain.EventType][]HandlerFunc

	execMu     sync.Mutex
	executions map[string]*domain.ExecutionContext
	reapers    map[string]*time.Timer

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	serviceID := opts.ServiceID
	if serviceID == "" {
		serviceID = "toolgrid-" + uuid.NewString()
	}
	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = domain.DefaultHeartbeatIntervalSeconds * time.Second
	}
	heartbeatTTL := opts.HeartbeatTTL
	if heartbeatTTL <= 0 {
		heartbeatTTL = domain.DefaultHeartbeatTTLSeconds * time.Second
	}
	reconcileInterval := opts.ReconcileInterval
	if reconcileInterval <= 0 {
		reconcileInterval = domain.DefaultReconcileIntervalSeconds * time.Second
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 4 * reconcileInterval
	}
	executionGrace := opts.ExecutionGrace
	if executionGrace <= 0 {
		executionGrace = domain.DefaultExecutionGraceSeconds * time.Second
	}

	return &Synchronizer{
		serviceID:         serviceID,
		bus:               opts.Bus,
		slots:             opts.Slots,
		logger:            logger.Named("syncer"),
		metrics:           metrics,
		heartbeatInterval: heartbeatInterval,
		heartbeatTTL:      heartbeatTTL,
		reconcileInterval: reconcileInterval,
		staleAfter:        staleAfter,
		executionGrace:    executionGrace,
		resync:            opts.Resync,
		tools:             make(map[string]cachedSpec),
		handlers:          make(map[domain.EventType][]HandlerFunc),
		executions:        make(map[string]*domain.ExecutionContext),
		reapers:           make(map[string]*time.Timer),
	}
}

// ServiceID returns this instance's identity on the bus.
func (s *Synchronizer) ServiceID() string {
	return s.serviceID
}

// Start subscribes to the bus and begins the receive, heartbeat and
// reconciliation loops. Idempotent.
func (s *Synchronizer) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return nil
	}
	subscription, err := s.bus.Subscribe()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, subscription, s.done)
	return nil
}

// Stop cancels the loops and waits for them to exit. Idempotent.
func (s *Synchronizer) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.execMu.Lock()
	for id, reaper := range s.reapers {
		reaper.Stop()
		delete(s.reapers, id)
	}
	s.execMu.Unlock()
}

func (s *Synchronizer) run(ctx context.Context, subscription bus.Subscription, done chan struct{}) {
	defer close(done)
	defer subscription.Close()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()
	reconcile := time.NewTicker(s.reconcileInterval)
	defer reconcile.Stop()

	s.writeHeartbeat()

	for {
		select {
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			s.receive(event)
		case <-heartbeat.C:
			s.writeHeartbeat()
		case <-reconcile.C:
			s.reconcile(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Publish validates and stamps an event, applies registry events to the
// local cache, and sends it to peers.
func (s *Synchronizer) Publish(ctx context.Context, event domain.ToolEvent) error {
	if event.SourceService == "" {
		event.SourceService = s.serviceID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := event.Validate(); err != nil {
		return domain.E(domain.CodeInvalidArgument, "syncer.Publish", "", err)
	}

	// Peers ignore our events on receipt, so registry state must be
	// folded in locally before publishing.
	s.apply(event)

	if err := s.bus.Publish(ctx, event); err != nil {
		return err
	}
	s.metrics.ObserveEventPublished(string(event.Type))
	return nil
}

// Subscribe registers a handler for one event type received from peers.
func (s *Synchronizer) Subscribe(eventType domain.EventType, handler HandlerFunc) {
	if handler == nil {
		return
	}
	s.handlerMu.Lock()
	s.handlers[eventType] = append(s.handlers[eventType], handler)
	s.handlerMu.Unlock()
}

func (s *Synchronizer) receive(event domain.ToolEvent) {
	// No self-notification loop: our own events were applied at publish.
	if event.SourceService == s.serviceID {
		s.metrics.ObserveEventIgnored(string(event.Type), "self")
		return
	}
	s.metrics.ObserveEventReceived(string(event.Type))
	s.apply(event)

	s.handlerMu.Lock()
	handlers := append([]HandlerFunc(nil), s.handlers[event.Type]...)
	s.handlerMu.Unlock()
	for _, handler := range handlers {
		s.dispatch(handler, event)
	}
}

func (s *Synchronizer) dispatch(handler HandlerFunc, event domain.ToolEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)), zap.Any("panic", r))
		}
	}()
	handler(event)
}

// apply folds a registry event into the replicated cache, fencing on the
// per-tool version so late-arriving stale events lose.
func (s *Synchronizer) apply(event domain.ToolEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastEvent = time.Now()

	switch event.Type {
	case domain.EventRegister, domain.EventUpdate:
		if existing, ok := s.tools[event.ToolID]; ok && existing.version.After(event.Timestamp) {
			s.metrics.ObserveEventIgnored(string(event.Type), "stale")
			return
		}
		s.tools[event.ToolID] = cachedSpec{
			spec:    domain.CloneServerDefinition(*event.ToolSpec),
			version: event.Timestamp,
		}
	case domain.EventUnregister:
		if existing, ok := s.tools[event.ToolID]; ok && existing.version.After(event.Timestamp) {
			s.metrics.ObserveEventIgnored(string(event.Type), "stale")
			return
		}
		delete(s.tools, event.ToolID)
	}
}

// CachedTool returns the last-known spec for a tool id.
func (s *Synchronizer) CachedTool(toolID string) (domain.ServerDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.tools[toolID]
	if !ok {
		return domain.ServerDefinition{}, false
	}
	return domain.CloneServerDefinition(cached.spec), true
}

// CachedTools returns a copy of the whole replicated cache.
func (s *Synchronizer) CachedTools() map[string]domain.ServerDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ServerDefinition, len(s.tools))
	for id, cached := range s.tools {
		out[id] = domain.CloneServerDefinition(cached.spec)
	}
	return out
}

func (s *Synchronizer) cachedToolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools)
}

func (s *Synchronizer) writeHeartbeat() {
	if s.slots == nil {
		return
	}
	payload, err := json.Marshal(Heartbeat{
		ServiceID:       s.serviceID,
		Timestamp:       time.Now(),
		Status:          "active",
		CachedToolCount: s.cachedToolCount(),
	})
	if err != nil {
		return
	}
	if err := s.slots.PutSlot(s.serviceID, payload, s.heartbeatTTL); err != nil {
		s.logger.Debug("heartbeat write failed", zap.Error(err))
		return
	}
	s.metrics.ObserveHeartbeat()
}

// Peers lists the heartbeats of every live service instance, this one
// included.
func (s *Synchronizer) Peers() ([]Heartbeat, error) {
	if s.slots == nil {
		return nil, nil
	}
	slots, err := s.slots.LiveSlots()
	if err != nil {
		return nil, err
	}
	peers := make([]Heartbeat, 0, len(slots))
	for _, payload := range slots {
		var beat Heartbeat
		if err := json.Unmarshal(payload, &beat); err != nil {
			continue
		}
		peers = append(peers, beat)
	}
	return peers, nil
}

// reconcile refreshes the whole cache from the authoritative source when
// no event has arrived for longer than staleAfter.
func (s *Synchronizer) reconcile(ctx context.Context) {
	if s.resync == nil {
		return
	}
	s.mu.RLock()
	lastEvent := s.lastEvent
	s.mu.RUnlock()
	if !lastEvent.IsZero() && time.Since(lastEvent) <= s.staleAfter {
		return
	}

	authoritative, err := s.resync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("resync failed", zap.Error(err))
		return
	}

	now := time.Now()
	replacement := make(map[string]cachedSpec, len(authoritative))
	for id, spec := range authoritative {
		replacement[id] = cachedSpec{spec: domain.CloneServerDefinition(spec), version: now}
	}

	s.mu.Lock()
	s.tools = replacement
	s.lastEvent = now
	s.mu.Unlock()

	s.logger.Info("replicated cache resynced", zap.Int("tools", len(replacement)))
}
