package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/events"
	"github.com/trydex/claude-code-viewer/internal/events/bus"
)

// Broadcaster subscribes to every event kind and forwards envelopes to the
// hub as JSON frames.
type Broadcaster struct {
	hub    *Hub
	bus    bus.EventBus
	logger *logger.Logger
	subs   []bus.Subscription
}

// NewBroadcaster creates a broadcaster for the hub.
func NewBroadcaster(hub *Hub, eventBus bus.EventBus, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Default()
	}
	return &Broadcaster{
		hub:    hub,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "ws_broadcaster")),
	}
}

// Start subscribes to all event kinds.
func (b *Broadcaster) Start() error {
	for _, kind := range events.Kinds() {
		sub, err := b.bus.Subscribe(kind, b.forward)
		if err != nil {
			b.Stop()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

// Stop unsubscribes from the bus.
func (b *Broadcaster) Stop() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	b.subs = nil
}

func (b *Broadcaster) forward(_ context.Context, env *events.Envelope) error {
	frame, err := events.Marshal(env)
	if err != nil {
		b.logger.Warn("failed to encode event frame",
			zap.String("kind", string(env.EventKind)),
			zap.Error(err))
		return nil
	}
	b.hub.Broadcast(frame)
	return nil
}
