package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/guzmanclinic/anabot/internal/events"
)

// update mirrors the Telegram Bot API update object, declared down to the
// fields the pipeline reads.
type update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *message `json:"message"`
	EditedMessage *message `json:"edited_message"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// Normalize converts a Bot API update into channel-agnostic events. Updates
// without a message body (channel posts, callback queries, member changes)
// yield no events and are acknowledged upstream.
//
// The event id is the update_id: message ids are only unique per chat, and
// the update_id is what the Bot API repeats on redelivery.
func Normalize(raw []byte) ([]events.Inbound, error) {
	var upd update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}

	msg := upd.Message
	if msg == nil {
		msg = upd.EditedMessage
	}
	if msg == nil || msg.Chat.ID == 0 || upd.UpdateID == 0 {
		return nil, nil
	}

	receivedAt := time.Now().UTC()
	if msg.Date > 0 {
		receivedAt = time.Unix(msg.Date, 0).UTC()
	}

	return []events.Inbound{{
		Channel:    events.ChannelTelegram,
		EventID:    strconv.FormatInt(upd.UpdateID, 10),
		UserKey:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:       msg.Text,
		ReceivedAt: receivedAt,
	}}, nil
}
