// Package bus distributes tool events between service instances. The
// in-memory implementation serves single-process deployments and tests; a
// networked broker can implement the same interface. Delivery is FIFO per
// publisher and best-effort: slow subscribers drop events rather than
// block publishers.
package bus

import (
	"context"

	"toolgrid/internal/domain"
)

// Bus publishes and delivers tool events on the shared topic.
type Bus interface {
	// Publish sends an event to every current subscriber.
	Publish(ctx context.Context, event domain.ToolEvent) error

	// Subscribe registers a new subscriber. The returned Subscription
	// must be closed when done.
	Subscribe() (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns the subscriber's event channel. It is closed when
	// the subscription or the bus closes.
	Events() <-chan domain.ToolEvent

	// Close unsubscribes and releases resources.
	Close() error
}
