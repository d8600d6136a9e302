// Package notifier delivers briefs and alerts to the console, a Discord
// webhook or a Telegram chat. Delivery is a single best-effort attempt.
package notifier

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rewired-gh/stockagent/internal/logger"
	"github.com/rewired-gh/stockagent/internal/models"
)

// Sender delivers text on one transport.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Notifier routes a message to the sender registered for its channel.
type Notifier struct {
	console  *Console
	discord  Sender
	telegram Sender
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithDiscord registers the discord transport.
func WithDiscord(s Sender) Option {
	return func(n *Notifier) { n.discord = s }
}

// WithTelegram registers the telegram transport.
func WithTelegram(s Sender) Option {
	return func(n *Notifier) { n.telegram = s }
}

// WithConsoleWriter redirects console output.
func WithConsoleWriter(w io.Writer) Option {
	return func(n *Notifier) { n.console = NewConsole(w) }
}

// New creates a notifier. Console delivery is always available.
func New(opts ...Option) *Notifier {
	n := &Notifier{console: NewConsole(os.Stdout)}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver sends text via channel. A remote channel without a configured
// transport falls back to the console. Remote failures are returned as
// *models.NotifyError and are not retried.
func (n *Notifier) Deliver(ctx context.Context, channel models.Channel, text string) error {
	var sender Sender
	switch channel {
	case models.ChannelConsole, "":
		return n.console.Send(ctx, text)
	case models.ChannelDiscord:
		sender = n.discord
	case models.ChannelTelegram:
		sender = n.telegram
	default:
		return models.NewNotifyError(channel, errors.New("unknown channel"), "cannot deliver")
	}

	if sender == nil {
		logger.Warn("No %s transport configured, falling back to console", channel)
		return n.console.Send(ctx, text)
	}
	if err := sender.Send(ctx, text); err != nil {
		return models.NewNotifyError(channel, err, "delivery failed")
	}
	return nil
}
