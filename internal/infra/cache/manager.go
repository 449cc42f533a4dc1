// Package cache implements the two-tier lookup cache: a bounded
// in-process L1 map in front of a shared durable bbolt L2 store. Caching
// is strictly a performance optimization; durable-tier failures degrade
// to misses and are never surfaced to callers.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgrid/internal/domain"
)

// Options configures a cache Manager.
type Options struct {
	Logger        *zap.Logger
	Metrics       domain.Metrics
	Durable       *BoltStore
	L1Capacity    int
	SweepInterval time.Duration
}

// Manager is the category-aware two-tier cache.
type Manager struct {
	logger  *zap.Logger
	metrics domain.Metrics
	l1      *l1Store
	durable *BoltStore

	mu          sync.Mutex
	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	sweepDone   chan struct{}

	sweepInterval time.Duration
}

// NewManager constructs a Manager. Durable may be nil, in which case only
// the in-process tier is used.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	capacity := opts.L1Capacity
	if capacity < 1 {
		capacity = domain.DefaultCacheL1Capacity
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = domain.DefaultSweepIntervalSeconds * time.Second
	}
	return &Manager{
		logger:        logger.Named("cache"),
		metrics:       metrics,
		l1:            newL1Store(capacity),
		durable:       opts.Durable,
		sweepInterval: sweepInterval,
	}
}

// Get returns the cached value for identifier, or false on miss. L1 is
// consulted first when the category allows it; an L2 hit backfills L1.
// L2 values round-trip through JSON, so an L2 hit yields decoded JSON
// types (map[string]any, float64, ...).
func (m *Manager) Get(category Category, identifier string) (any, bool) {
	policy, ok := policyFor(category)
	if !ok {
		return nil, false
	}
	now := time.Now()
	key := entryKey(policy, identifier)

	if policy.l1Eligible {
		if value, hit := m.l1.get(key, now); hit {
			m.metrics.ObserveCacheHit(string(category), "l1")
			return value, true
		}
	}

	if m.durable == nil {
		m.metrics.ObserveCacheMiss(string(category))
		return nil, false
	}

	env, hit, err := m.durable.get(category, key, now)
	if err != nil {
		// Durable-tier failures degrade to a miss.
		m.logger.Debug("durable tier read failed", zap.String("category", string(category)), zap.Error(err))
		m.metrics.ObserveCacheMiss(string(category))
		return nil, false
	}
	if !hit {
		m.metrics.ObserveCacheMiss(string(category))
		return nil, false
	}

	var value any
	if err := json.Unmarshal(env.Value, &value); err != nil {
		m.logger.Debug("durable tier entry undecodable", zap.String("category", string(category)), zap.Error(err))
		m.metrics.ObserveCacheMiss(string(category))
		return nil, false
	}

	if policy.l1Eligible {
		if m.l1.set(key, identifier, value, env.TTL, env.CreatedAt, now) {
			m.metrics.ObserveCacheEviction(string(category), "capacity")
		}
	}
	m.metrics.ObserveCacheHit(string(category), "l2")
	return value, true
}

// Set writes through to both tiers. ttl <= 0 selects the category
// default. The value must be JSON-serializable for the durable tier;
// serialization or I/O failures there are logged and swallowed.
func (m *Manager) Set(category Category, identifier string, value any, ttl time.Duration) {
	policy, ok := policyFor(category)
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = policy.ttl
	}
	now := time.Now()
	key := entryKey(policy, identifier)

	if policy.l1Eligible {
		if m.l1.set(key, identifier, value, ttl, now, now) {
			m.metrics.ObserveCacheEviction(string(category), "capacity")
		}
	}

	if m.durable == nil {
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		m.logger.Debug("cache value not serializable", zap.String("category", string(category)), zap.Error(err))
		return
	}
	env := envelope{
		Identifier: identifier,
		Value:      encoded,
		CreatedAt:  now,
		TTL:        ttl,
	}
	if err := m.durable.put(category, key, env); err != nil {
		m.logger.Debug("durable tier write failed", zap.String("category", string(category)), zap.Error(err))
	}
}

// Delete removes the entry from both tiers.
func (m *Manager) Delete(category Category, identifier string) {
	policy, ok := policyFor(category)
	if !ok {
		return
	}
	key := entryKey(policy, identifier)
	m.l1.delete(key)
	if m.durable != nil {
		if err := m.durable.delete(category, key); err != nil {
			m.logger.Debug("durable tier delete failed", zap.String("category", string(category)), zap.Error(err))
		}
	}
}

// InvalidatePattern removes every entry of the category whose logical
// identifier contains substring and returns the number removed.
func (m *Manager) InvalidatePattern(category Category, substring string) int {
	policy, ok := policyFor(category)
	if !ok {
		return 0
	}
	l1Count := m.l1.deleteMatching(policy.prefix, substring)
	if m.durable == nil {
		return l1Count
	}
	l2Count, err := m.durable.deleteMatching(category, substring)
	if err != nil {
		m.logger.Debug("durable tier invalidate failed", zap.String("category", string(category)), zap.Error(err))
		return l1Count
	}
	return l2Count
}

// SweepExpired purges expired entries from both tiers and returns the
// total removed.
func (m *Manager) SweepExpired() int {
	now := time.Now()
	count := m.l1.sweep(now)
	if m.durable != nil {
		swept, err := m.durable.sweep(now)
		if err != nil {
			m.logger.Debug("durable tier sweep failed", zap.Error(err))
		} else {
			count += swept
		}
	}
	return count
}

// StartSweeper begins the periodic expiry sweep. Idempotent.
func (m *Manager) StartSweeper() {
	m.mu.Lock()
	if m.sweepTicker != nil {
		m.mu.Unlock()
		return
	}
	m.sweepTicker = time.NewTicker(m.sweepInterval)
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})
	ticker := m.sweepTicker
	stop := m.stopSweep
	done := m.sweepDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				if swept := m.SweepExpired(); swept > 0 {
					m.logger.Debug("expired cache entries swept", zap.Int("count", swept))
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopSweeper ends the sweep loop and waits for it to exit. Idempotent.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	if m.sweepTicker == nil {
		m.mu.Unlock()
		return
	}
	m.sweepTicker.Stop()
	m.sweepTicker = nil
	close(m.stopSweep)
	done := m.sweepDone
	m.mu.Unlock()

	<-done
}

// Stats reports the current size of the in-process tier.
type Stats struct {
	L1Entries int
}

func (m *Manager) Stats() Stats {
	return Stats{L1Entries: m.l1.len()}
}
