package cache

import (
	"strings"
	"sync"
	"time"
)

type l1Entry struct {
	identifier   string
	value        any
	createdAt    time.Time
	ttl          time.Duration
	accessCount  uint64
	lastAccessed time.Time
}

func (e *l1Entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// l1Store is the bounded in-process tier. At capacity it evicts the entry
// with the smallest (accessCount, lastAccessed) tuple, so freshly seeded
// but unused entries go before heavily reused ones.
type l1Store struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*l1Entry
}

func newL1Store(capacity int) *l1Store {
	if capacity < 1 {
		capacity = 1
	}
	return &l1Store{
		capacity: capacity,
		entries:  make(map[string]*l1Entry, capacity),
	}
}

func (s *l1Store) get(key string, now time.Time) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return nil, false
	}
	entry.accessCount++
	entry.lastAccessed = now
	return entry.value, true
}

// set stores an entry. createdAt may predate now when backfilling from
// the durable tier, so the original expiry is preserved.
func (s *l1Store) set(key, identifier string, value any, ttl time.Duration, createdAt, now time.Time) (evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		s.evictOneLocked()
		evicted = true
	}
	s.entries[key] = &l1Entry{
		identifier:   identifier,
		value:        value,
		createdAt:    createdAt,
		ttl:          ttl,
		lastAccessed: now,
	}
	return evicted
}

func (s *l1Store) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *l1Store) deleteMatching(prefix, substring string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !strings.Contains(entry.identifier, substring) {
			continue
		}
		delete(s.entries, key)
		count++
	}
	return count
}

func (s *l1Store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			count++
		}
	}
	return count
}

func (s *l1Store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOneLocked removes the entry with the minimum
// (accessCount, lastAccessed) tuple. Caller holds s.mu.
func (s *l1Store) evictOneLocked() {
	var victimKey string
	var victim *l1Entry
	for key, entry := range s.entries {
		if victim == nil || lessByUse(entry, victim) {
			victimKey = key
			victim = entry
		}
	}
	if victim != nil {
		delete(s.entries, victimKey)
	}
}

func lessByUse(a, b *l1Entry) bool {
	if a.accessCount != b.accessCount {
		return a.accessCount < b.accessCount
	}
	return a.lastAccessed.Before(b.lastAccessed)
}
