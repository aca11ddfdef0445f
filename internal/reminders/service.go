package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/guzmanclinic/anabot/internal/conversation"
	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/internal/messaging"
	"github.com/guzmanclinic/anabot/internal/notify"
	"github.com/guzmanclinic/anabot/internal/observability/metrics"
	"github.com/guzmanclinic/anabot/internal/patients"
	"github.com/guzmanclinic/anabot/internal/scheduling"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

const (
	defaultLeadTime = 24 * time.Hour
	defaultInterval = 5 * time.Minute
)

// Service delivers appointment reminders over the channel each patient chose.
// The reminder stamp on the appointment row is claimed before delivery, so
// overlapping runs never double-send.
type Service struct {
	appts      *scheduling.Repository
	patients   *patients.Repository
	dispatcher *messaging.Dispatcher
	email      notify.EmailSender
	metrics    *metrics.ConversationMetrics
	logger     *logging.Logger
	lead       time.Duration
	interval   time.Duration
	loc        *time.Location
}

type Config struct {
	Appointments *scheduling.Repository
	Patients     *patients.Repository
	Dispatcher   *messaging.Dispatcher
	Email        notify.EmailSender
	Metrics      *metrics.ConversationMetrics
	Logger       *logging.Logger
	LeadTime     time.Duration
	PollInterval time.Duration
	Location     *time.Location
}

func NewService(cfg Config) *Service {
	if cfg.Appointments == nil || cfg.Patients == nil || cfg.Dispatcher == nil {
		panic("reminders: appointments, patients and dispatcher required")
	}
	if cfg.Email == nil {
		cfg.Email = notify.NewStubEmailSender(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = defaultLeadTime
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		appts:      cfg.Appointments,
		patients:   cfg.Patients,
		dispatcher: cfg.Dispatcher,
		email:      cfg.Email,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		lead:       cfg.LeadTime,
		interval:   cfg.PollInterval,
		loc:        cfg.Location,
	}
}

// Run polls until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.RunOnce(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce processes every appointment whose reminder window opened before now.
func (s *Service) RunOnce(ctx context.Context, now time.Time) {
	due, err := s.appts.DueReminders(ctx, now, s.lead)
	if err != nil {
		s.logger.Error("reminder fetch failed", "error", err)
		return
	}
	for _, appt := range due {
		s.remind(ctx, appt, now)
	}
}

func (s *Service) remind(ctx context.Context, appt scheduling.Appointment, now time.Time) {
	claimed, err := s.appts.MarkReminderSent(ctx, appt.ID, now)
	if err != nil {
		s.logger.Error("reminder claim failed", "error", err, "appointment_id", appt.ID)
		return
	}
	if !claimed {
		return
	}

	patient, err := s.patients.GetByDNI(ctx, appt.PatientDNI)
	if err != nil {
		s.logger.Warn("reminder skipped, patient lookup failed", "error", err, "appointment_id", appt.ID)
		s.metrics.ObserveReminder("none", "skipped")
		return
	}

	channel := s.pickChannel(appt, patient)
	if channel == "" {
		s.logger.Warn("reminder skipped, patient unreachable", "appointment_id", appt.ID, "dni", appt.PatientDNI)
		s.metrics.ObserveReminder("none", "skipped")
		return
	}

	if err := s.deliver(ctx, channel, appt, patient); err != nil {
		s.logger.Error("reminder delivery failed", "error", err, "appointment_id", appt.ID, "channel", channel)
		s.metrics.ObserveReminder(channel, "error")
		return
	}
	s.logger.Info("reminder sent", "appointment_id", appt.ID, "channel", channel)
	s.metrics.ObserveReminder(channel, "sent")
}

// pickChannel honors the stored preference and falls back to whichever
// channel the patient actually has an identity on.
func (s *Service) pickChannel(appt scheduling.Appointment, p *patients.Patient) string {
	switch appt.ReminderChannel {
	case "wa":
		if p.WaUserID != "" {
			return "wa"
		}
	case "tg":
		if p.TgUserID != "" {
			return "tg"
		}
	case "email":
		if p.Email != "" {
			return "email"
		}
	}
	switch {
	case p.WaUserID != "":
		return "wa"
	case p.TgUserID != "":
		return "tg"
	case p.Email != "":
		return "email"
	}
	return ""
}

func (s *Service) deliver(ctx context.Context, channel string, appt scheduling.Appointment, p *patients.Patient) error {
	text := s.message(appt)
	switch channel {
	case "wa":
		return s.dispatcher.Send(ctx, events.ChannelWhatsApp, p.WaUserID, text)
	case "tg":
		return s.dispatcher.Send(ctx, events.ChannelTelegram, p.TgUserID, text)
	case "email":
		return s.email.Send(ctx, notify.EmailMessage{
			To:      p.Email,
			ToName:  p.FullName,
			Subject: "Recordatorio de cita - Clínica Guzmán",
			Body:    text,
		})
	}
	return fmt.Errorf("reminders: unknown channel %q", channel)
}

func (s *Service) message(appt scheduling.Appointment) string {
	return fmt.Sprintf("Le recordamos su cita en la Clínica Guzmán, sede %s, el %s. Si no puede asistir, escríbanos para reagendar.",
		scheduling.SiteLabels[appt.Site], conversation.FormatSlotSpanish(appt.StartsAt, s.loc))
}
