package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/guzmanclinic/anabot/internal/events"
)

// payload mirrors the WhatsApp Cloud API webhook envelope. Only the parts we
// read are declared; everything else is ignored on purpose.
type payload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []message       `json:"messages"`
				Statuses json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Reaction struct {
		Emoji string `json:"emoji"`
	} `json:"reaction"`
}

// Normalize converts a Cloud API webhook body into channel-agnostic events.
// Status-only callbacks and unknown message types yield no events; the caller
// acknowledges and drops them. Dedup happens downstream.
func Normalize(raw []byte) ([]events.Inbound, error) {
	var body payload
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}

	var out []events.Inbound
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" || msg.ID == "" {
					continue
				}
				text := ""
				switch msg.Type {
				case "text":
					text = msg.Text.Body
				case "reaction":
					text = msg.Reaction.Emoji
				default:
					continue
				}
				out = append(out, events.Inbound{
					Channel:    events.ChannelWhatsApp,
					EventID:    msg.ID,
					UserKey:    msg.From,
					Text:       text,
					ReceivedAt: messageTime(msg.Timestamp),
				})
			}
		}
	}
	return out, nil
}

func messageTime(unix string) time.Time {
	if secs, err := strconv.ParseInt(unix, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Now().UTC()
}

// VerifySubscription checks the hub.* query parameters of the Cloud API
// verification handshake. It returns the challenge to echo back, or false
// when the token does not match.
func VerifySubscription(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" || token != verifyToken {
		return "", false
	}
	return challenge, true
}
