package bus

import (
	"context"
	"sync"

	"toolgrid/internal/domain"
)

// MemBusConfig configures an in-memory bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer per subscriber.
	SubscriberBufferSize int
}

// MemBus is the in-process Bus implementation.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[*memSub]struct{}
	bufSize int
	closed  bool
}

func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = domain.DefaultEventBufferSize
	}
	return &MemBus{
		subs:    make(map[*memSub]struct{}),
		bufSize: bufSize,
	}
}

func (b *MemBus) Publish(ctx context.Context, event domain.ToolEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return domain.ErrBusClosed
	}
	for sub := range b.subs {
		sub.send(event)
	}
	return nil
}

func (b *MemBus) Subscribe() (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, domain.ErrBusClosed
	}
	sub := newMemSub(b, b.bufSize)
	b.subs[sub] = struct{}{}
	return sub, nil
}

func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
	b.subs = make(map[*memSub]struct{})
	return nil
}

func (b *MemBus) unsubscribe(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

type memSub struct {
	bus    *MemBus
	ch     chan domain.ToolEvent
	mu     sync.Mutex
	closed bool
}

func newMemSub(bus *MemBus, bufSize int) *memSub {
	return &memSub{
		bus: bus,
		ch:  make(chan domain.ToolEvent, bufSize),
	}
}

func (s *memSub) Events() <-chan domain.ToolEvent {
	return s.ch
}

func (s *memSub) Close() error {
	s.bus.unsubscribe(s)
	s.close()
	return nil
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event. A full or closed subscriber drops the event
// instead of blocking the publisher.
func (s *memSub) send(event domain.ToolEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

var (
	_ Bus          = (*MemBus)(nil)
	_ Subscription = (*memSub)(nil)
)
