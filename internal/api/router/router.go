package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guzmanclinic/anabot/internal/http/handlers"
	httpmiddleware "github.com/guzmanclinic/anabot/internal/http/middleware"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	Webhooks        *handlers.WebhookHandler
	Admin           *handlers.AdminHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	if cfg.Webhooks != nil {
		r.Route("/webhook", func(wh chi.Router) {
			wh.Get("/whatsapp", cfg.Webhooks.WhatsAppVerify)
			wh.Post("/whatsapp", cfg.Webhooks.WhatsAppWebhook)
			wh.Post("/telegram", cfg.Webhooks.TelegramWebhook)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/conversations", cfg.Admin.ListConversations)
			admin.Get("/contact-requests", cfg.Admin.ListContactRequests)
			admin.Post("/appointments/{id}/confirm", cfg.Admin.ConfirmAppointment)
			admin.Post("/appointments/{id}/cancel", cfg.Admin.CancelAppointment)
		})
	}

	return r
}
