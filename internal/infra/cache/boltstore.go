package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrStoreClosed indicates the durable store has been closed.
var ErrStoreClosed = errors.New("durable store is closed")

var slotBucketName = []byte("slots")

// envelope is the durable-tier record. The TTL travels with the value so
// a restarted process cannot resurrect data past its expiry.
type envelope struct {
	Identifier string          `json:"identifier,omitempty"`
	Value      json.RawMessage `json:"value"`
	CreatedAt  time.Time       `json:"created_at"`
	TTL        time.Duration   `json:"ttl"`
}

func (e envelope) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// BoltStore is the shared durable tier backed by bbolt: one bucket per
// cache category plus a slot bucket for TTL-expiring liveness records.
type BoltStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

// OpenBoltStore opens (creating if needed) the durable store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	db, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, category := range Categories() {
			if _, err := tx.CreateBucketIfNotExists([]byte(category)); err != nil {
				return fmt.Errorf("create bucket %s: %w", category, err)
			}
		}
		if _, err := tx.CreateBucketIfNotExists(slotBucketName); err != nil {
			return fmt.Errorf("create slot bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, path: trimmed}, nil
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BoltStore) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func (s *BoltStore) put(category Category, key string, env envelope) error {
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(category))
		if bucket == nil {
			return fmt.Errorf("missing bucket %s", category)
		}
		return bucket.Put([]byte(key), encoded)
	})
}

// get returns the live envelope for key. Expired entries are removed on
// read and reported as absent.
func (s *BoltStore) get(category Category, key string, now time.Time) (envelope, bool, error) {
	var env envelope
	var found bool
	var expired bool

	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(category))
		if bucket == nil {
			return fmt.Errorf("missing bucket %s", category)
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		if env.expired(now) {
			expired = true
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return envelope{}, false, err
	}
	if expired {
		_ = s.delete(category, key)
	}
	return env, found, nil
}

func (s *BoltStore) delete(category Category, key string) error {
	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(category))
		if bucket == nil {
			return fmt.Errorf("missing bucket %s", category)
		}
		return bucket.Delete([]byte(key))
	})
}

// deleteMatching removes entries whose stored identifier contains
// substring and returns how many were removed.
func (s *BoltStore) deleteMatching(category Category, substring string) (int, error) {
	count := 0
	err := s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(category))
		if bucket == nil {
			return fmt.Errorf("missing bucket %s", category)
		}
		var victims [][]byte
		if err := bucket.ForEach(func(key, value []byte) error {
			var env envelope
			if err := json.Unmarshal(value, &env); err != nil {
				victims = append(victims, append([]byte(nil), key...))
				return nil
			}
			if strings.Contains(env.Identifier, substring) {
				victims = append(victims, append([]byte(nil), key...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, key := range victims {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		count = len(victims)
		return nil
	})
	return count, err
}

// sweep deletes every expired entry across all category buckets.
func (s *BoltStore) sweep(now time.Time) (int, error) {
	count := 0
	err := s.update(func(tx *bolt.Tx) error {
		for _, category := range Categories() {
			bucket := tx.Bucket([]byte(category))
			if bucket == nil {
				continue
			}
			var victims [][]byte
			if err := bucket.ForEach(func(key, value []byte) error {
				var env envelope
				if err := json.Unmarshal(value, &env); err != nil || env.expired(now) {
					victims = append(victims, append([]byte(nil), key...))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, key := range victims {
				if err := bucket.Delete(key); err != nil {
					return err
				}
			}
			count += len(victims)
		}
		return nil
	})
	return count, err
}

// PutSlot writes a TTL-expiring slot, used for service heartbeats.
func (s *BoltStore) PutSlot(key string, payload []byte, ttl time.Duration) error {
	env := envelope{
		Value:     append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode slot: %w", err)
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotBucketName)
		if bucket == nil {
			return errors.New("missing slot bucket")
		}
		return bucket.Put([]byte(key), encoded)
	})
}

// GetSlot returns the payload of a live slot, or absent when expired.
func (s *BoltStore) GetSlot(key string) ([]byte, bool, error) {
	var payload []byte
	var found bool
	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotBucketName)
		if bucket == nil {
			return errors.New("missing slot bucket")
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode slot: %w", err)
		}
		if env.expired(time.Now()) {
			return nil
		}
		payload = append([]byte(nil), env.Value...)
		found = true
		return nil
	})
	return payload, found, err
}

// LiveSlots returns the payloads of all slots that have not expired.
func (s *BoltStore) LiveSlots() (map[string][]byte, error) {
	now := time.Now()
	slots := make(map[string][]byte)
	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotBucketName)
		if bucket == nil {
			return errors.New("missing slot bucket")
		}
		return bucket.ForEach(func(key, value []byte) error {
			var env envelope
			if err := json.Unmarshal(value, &env); err != nil {
				return nil
			}
			if env.expired(now) {
				return nil
			}
			slots[string(key)] = append([]byte(nil), env.Value...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}
