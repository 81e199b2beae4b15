// Package bus provides the event bus abstraction with in-memory and NATS
// implementations. The in-memory bus is the default for single-process
// deployments; NATS is used when a nats.url is configured.
package bus

import (
	"context"

	"github.com/trydex/claude-code-viewer/internal/events"
)

// Handler processes a delivered event envelope. A non-nil error is logged by
// the bus and does not affect other subscribers.
type Handler func(ctx context.Context, env *events.Envelope) error

// Subscription represents an active subscription on the bus.
type Subscription interface {
	// Unsubscribe removes the subscription. Safe to call more than once.
	Unsubscribe() error

	// IsValid reports whether the subscription is still active.
	IsValid() bool
}

// EventBus publishes envelopes to subscribers registered by event kind.
//
// Publish delivers to same-kind subscribers in registration order and does
// not return until delivery is complete, so a publisher observes its own
// event's effects before continuing. A subscriber error or panic is isolated
// to that subscriber.
type EventBus interface {
	Publish(ctx context.Context, env *events.Envelope) error
	Subscribe(kind events.Kind, handler Handler) (Subscription, error)
	Close() error
	IsConnected() bool
}
