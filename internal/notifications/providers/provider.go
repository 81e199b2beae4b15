// Package providers contains outbound notification providers.
package providers

import "context"

// Message is one outbound notification.
type Message struct {
	Title string
	Body  string
}

// Provider delivers notifications to one external channel. Delivery is best
// effort; the bridge logs and swallows errors.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Available reports whether the provider is configured and usable.
	Available() bool

	// Send delivers the message.
	Send(ctx context.Context, msg Message) error
}
