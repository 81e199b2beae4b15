package bus

import (
	"github.com/trydex/claude-code-viewer/internal/common/config"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
)

// NewFromConfig builds the event bus the configuration asks for. An empty
// nats.url selects the in-memory bus, which is the default for the usual
// single-process deployment.
func NewFromConfig(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		return NewMemoryEventBus(log), nil
	}
	return NewNATSEventBus(NATSConfig{
		URL:           cfg.URL,
		ClientID:      cfg.ClientID,
		MaxReconnects: cfg.MaxReconnects,
	}, log)
}
