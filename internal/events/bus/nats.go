package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/events"
)

const natsSubjectPrefix = "ccv.events."

// NATSEventBus is an EventBus backed by a NATS connection, for deployments
// where multiple backend processes must observe the same events.
//
// Unlike the in-memory bus, delivery through NATS is asynchronous and does
// not preserve publish-before-return semantics; components that rely on
// synchronous delivery keep using the in-memory bus locally.
type NATSEventBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NATSConfig holds the connection settings for the NATS bus.
type NATSConfig struct {
	URL           string
	ClientID      string
	MaxReconnects int
}

// NewNATSEventBus connects to NATS and returns a bus bound to that connection.
func NewNATSEventBus(cfg NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "nats_event_bus"))

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	log.Info("connected to nats", zap.String("url", cfg.URL))
	return &NATSEventBus{conn: conn, logger: log}, nil
}

func subjectFor(kind events.Kind) string {
	return natsSubjectPrefix + string(kind)
}

// Publish marshals the envelope and publishes it to the kind's subject.
func (b *NATSEventBus) Publish(_ context.Context, env *events.Envelope) error {
	if env == nil {
		return fmt.Errorf("cannot publish nil envelope")
	}

	data, err := events.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.conn.Publish(subjectFor(env.EventKind), data); err != nil {
		return fmt.Errorf("failed to publish event to nats: %w", err)
	}
	return nil
}

// Subscribe registers a handler for the given kind's subject.
func (b *NATSEventBus) Subscribe(kind events.Kind, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	sub, err := b.conn.Subscribe(subjectFor(kind), func(msg *nats.Msg) {
		env, err := events.Unmarshal(msg.Data)
		if err != nil {
			b.logger.Error("failed to decode event from nats",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if err := handler(context.Background(), env); err != nil {
			b.logger.Warn("event handler returned error",
				zap.String("kind", string(env.EventKind)),
				zap.String("event_id", env.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subjectFor(kind), err)
	}

	return &natsSubscription{sub: sub}, nil
}

// Close drains the connection so in-flight messages finish delivery.
func (b *NATSEventBus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (b *NATSEventBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.sub.IsValid()
}
