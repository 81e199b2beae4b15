// Package notifications bridges bus events to outbound notification
// providers. Delivery is best effort: provider failures are logged and never
// affect the publishing component.
package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/events"
	"github.com/trydex/claude-code-viewer/internal/events/bus"
	"github.com/trydex/claude-code-viewer/internal/notifications/providers"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// Bridge subscribes to permission requests and terminal lifecycle changes
// and forwards them to every available provider.
type Bridge struct {
	bus       bus.EventBus
	providers []providers.Provider
	logger    *logger.Logger
	subs      []bus.Subscription
}

// NewBridge creates a bridge over the given providers.
func NewBridge(eventBus bus.EventBus, provs []providers.Provider, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Default()
	}
	return &Bridge{
		bus:       eventBus,
		providers: provs,
		logger:    log.WithFields(zap.String("component", "notification_bridge")),
	}
}

// Start subscribes the bridge to the bus.
func (b *Bridge) Start() error {
	sub, err := b.bus.Subscribe(events.KindPermissionRequested, b.onPermissionRequested)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, sub)

	sub, err = b.bus.Subscribe(events.KindSessionProcessChanged, b.onSessionProcessChanged)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Stop unsubscribes the bridge.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	b.subs = nil
}

func (b *Bridge) onPermissionRequested(_ context.Context, env *events.Envelope) error {
	p, ok := env.Payload.(events.PermissionRequested)
	if !ok {
		return nil
	}
	b.deliver(providers.Message{
		Title: "Permission required",
		Body: fmt.Sprintf("Session process %s wants to use %s. Open the viewer to respond.",
			p.SessionProcessID, p.ToolName),
	})
	return nil
}

func (b *Bridge) onSessionProcessChanged(_ context.Context, env *events.Envelope) error {
	p, ok := env.Payload.(events.SessionProcessChanged)
	if !ok {
		return nil
	}
	state := v1.SessionProcessState(p.State)
	if !state.IsTerminal() && state != v1.StatePaused {
		return nil
	}
	b.deliver(providers.Message{
		Title: "Session process " + p.State,
		Body:  fmt.Sprintf("Session process %s is now %s.", p.SessionProcessID, p.State),
	})
	return nil
}

// deliver fans the message out in the background so slow providers never
// block event publication.
func (b *Bridge) deliver(msg providers.Message) {
	for _, p := range b.providers {
		if !p.Available() {
			continue
		}
		p := p
		go func() {
			if err := p.Send(context.Background(), msg); err != nil {
				b.logger.Warn("notification delivery failed",
					zap.String("provider", p.Name()),
					zap.Error(err))
			}
		}()
	}
}
