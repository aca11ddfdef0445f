package events

import "time"

// Channel identifies a messaging surface.
type Channel string

const (
	ChannelWhatsApp Channel = "wa"
	ChannelTelegram Channel = "tg"
)

// Inbound is a channel-agnostic inbound message event produced by the
// per-channel normalizers. EventID is the provider message id and is the
// idempotency key together with the channel.
type Inbound struct {
	Channel    Channel
	EventID    string
	UserKey    string
	Text       string
	ReceivedAt time.Time
}

// Key returns the dedup key for this event.
func (e Inbound) Key() string {
	return string(e.Channel) + ":" + e.EventID
}
