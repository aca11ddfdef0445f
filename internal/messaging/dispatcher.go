package messaging

import (
	"context"
	"fmt"

	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

// Sender delivers a text message to one provider's user.
type Sender interface {
	SendText(ctx context.Context, userKey, text string) error
}

// Dispatcher routes abstract replies to the per-channel provider clients.
// Delivery failures are logged, never retried inline, and never block the
// inbound turn.
type Dispatcher struct {
	senders map[events.Channel]Sender
	logger  *logging.Logger
}

func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{senders: map[events.Channel]Sender{}, logger: logger}
}

// Register wires a provider client to its channel.
func (d *Dispatcher) Register(ch events.Channel, s Sender) {
	if s == nil {
		panic("messaging: nil sender")
	}
	d.senders[ch] = s
}

// Send delivers the reply. The returned error is informational; callers treat
// delivery failure as non-fatal.
func (d *Dispatcher) Send(ctx context.Context, ch events.Channel, userKey, text string) error {
	if text == "" {
		return nil
	}
	s, ok := d.senders[ch]
	if !ok {
		err := fmt.Errorf("messaging: no sender registered for channel %q", ch)
		d.logger.Error("dispatch failed", "error", err, "channel", ch, "user_key", userKey)
		return err
	}
	if err := s.SendText(ctx, userKey, text); err != nil {
		d.logger.Error("delivery failed", "error", err, "channel", ch, "user_key", userKey)
		return fmt.Errorf("messaging: send on %s: %w", ch, err)
	}
	return nil
}
