package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/events"
)

// MemoryEventBus is an in-process EventBus. Delivery is synchronous: Publish
// invokes every matching handler, in registration order, before returning.
type MemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[events.Kind][]*memorySubscription
	closed      bool
	logger      *logger.Logger
}

type memorySubscription struct {
	id      string
	kind    events.Kind
	handler Handler
	bus     *MemoryEventBus

	mu     sync.Mutex
	active bool
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryEventBus{
		subscribers: make(map[events.Kind][]*memorySubscription),
		logger:      log.WithFields(zap.String("component", "memory_event_bus")),
	}
}

// Publish delivers the envelope to all subscribers of its kind. Handlers run
// on the caller's goroutine so that the publisher's state changes are visible
// to every subscriber before Publish returns.
func (b *MemoryEventBus) Publish(ctx context.Context, env *events.Envelope) error {
	if env == nil {
		return fmt.Errorf("cannot publish nil envelope")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	// Snapshot so a handler may unsubscribe (itself included) during delivery.
	subs := make([]*memorySubscription, len(b.subscribers[env.EventKind]))
	copy(subs, b.subscribers[env.EventKind])
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.IsValid() {
			continue
		}
		b.deliver(ctx, sub, env)
	}
	return nil
}

func (b *MemoryEventBus) deliver(ctx context.Context, sub *memorySubscription, env *events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(env.EventKind)),
				zap.String("event_id", env.ID),
				zap.Any("panic", r))
		}
	}()

	if err := sub.handler(ctx, env); err != nil {
		b.logger.Warn("event handler returned error",
			zap.String("kind", string(env.EventKind)),
			zap.String("event_id", env.ID),
			zap.Error(err))
	}
}

// Subscribe registers a handler for the given event kind.
func (b *MemoryEventBus) Subscribe(kind events.Kind, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		id:      uuid.New().String(),
		kind:    kind,
		handler: handler,
		bus:     b,
		active:  true,
	}
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	return sub, nil
}

// Close shuts down the bus and invalidates all subscriptions.
func (b *MemoryEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscribers = make(map[events.Kind][]*memorySubscription)
	return nil
}

// IsConnected always reports true for the in-memory bus until it is closed.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscribers[s.kind]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscribers[s.kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
