package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/guzmanclinic/anabot/internal/channels/telegram"
	"github.com/guzmanclinic/anabot/internal/channels/whatsapp"
	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

// InboundProcessor runs one normalized event through the conversation turn.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, ev events.Inbound) error
}

// defaultAckTimeout bounds how long a webhook waits for the turn before
// acknowledging the provider anyway. Both providers redeliver on slow or
// non-200 responses, so the ack must not wait on a stuck calendar call.
const defaultAckTimeout = 8 * time.Second

// WebhookHandler terminates the WhatsApp and Telegram webhook endpoints.
type WebhookHandler struct {
	processor     InboundProcessor
	logger        *logging.Logger
	waVerifyToken string
	tgSecret      string
	ackTimeout    time.Duration
}

type WebhookConfig struct {
	Processor             InboundProcessor
	Logger                *logging.Logger
	WhatsAppVerifyToken   string
	TelegramWebhookSecret string
	AckTimeout            time.Duration
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Processor == nil {
		panic("handlers: inbound processor required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	return &WebhookHandler{
		processor:     cfg.Processor,
		logger:        cfg.Logger,
		waVerifyToken: cfg.WhatsAppVerifyToken,
		tgSecret:      cfg.TelegramWebhookSecret,
		ackTimeout:    cfg.AckTimeout,
	}
}

// WhatsAppVerify answers the Cloud API subscription handshake: echo the
// challenge when the verify token matches, 403 otherwise.
func (h *WebhookHandler) WhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.waVerifyToken)
	if !ok {
		h.logger.Warn("whatsapp subscription verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// WhatsAppWebhook ingests Cloud API message events. Always 200 after the
// payload is read: a non-200 only buys a redelivery storm.
func (h *WebhookHandler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	evs, err := whatsapp.Normalize(body)
	if err != nil {
		h.logger.Warn("unrecognized whatsapp payload dropped", "error", err)
	}
	h.process(r.Context(), evs)
	w.WriteHeader(http.StatusOK)
}

// TelegramWebhook ingests Bot API updates. The secret token header is
// enforced when configured.
func (h *WebhookHandler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if h.tgSecret != "" && r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != h.tgSecret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	evs, err := telegram.Normalize(body)
	if err != nil {
		h.logger.Warn("unrecognized telegram payload dropped", "error", err)
	}
	h.process(r.Context(), evs)
	w.WriteHeader(http.StatusOK)
}

// process runs the events through the pipeline, acknowledging within the
// bounded window even if a turn is still committing. The turn keeps running
// past the ack; its errors are logged, never surfaced to the provider.
func (h *WebhookHandler) process(reqCtx context.Context, evs []events.Inbound) {
	if len(evs) == 0 {
		return
	}
	ctx := context.WithoutCancel(reqCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ev := range evs {
			if err := h.processor.HandleInbound(ctx, ev); err != nil {
				h.logger.Error("turn failed", "error", err, "channel", ev.Channel, "event_id", ev.EventID)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(h.ackTimeout):
		h.logger.Warn("acknowledging provider before turn completion", "events", len(evs))
	}
}
