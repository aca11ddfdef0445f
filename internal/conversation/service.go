package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/internal/messaging"
	"github.com/guzmanclinic/anabot/internal/observability/metrics"
	"github.com/guzmanclinic/anabot/internal/patients"
	"github.com/guzmanclinic/anabot/internal/scheduling"
	"github.com/guzmanclinic/anabot/internal/session"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

var tracer = otel.Tracer("anabot.internal.conversation")

// ErrPersistenceConflict is returned when the session row kept changing under
// us past the retry budget. The provider redelivery will retry the turn.
var ErrPersistenceConflict = errors.New("conversation: persistence conflict")

const saveAttempts = 3

// ServiceDeps wires the effect runner. All fields except Metrics and Logger
// are required.
type ServiceDeps struct {
	Locks      *session.KeyedLock
	Dedup      *events.DedupWindow
	Resolver   *patients.Resolver
	Sessions   *session.Store
	Coord      *scheduling.Coordinator
	Logs       *LogStore
	Dispatcher *messaging.Dispatcher
	Metrics    *metrics.ConversationMetrics
	Policy     Policy
	// SlotSuggestionDays bounds how far ahead "opciones" scans for free slots.
	SlotSuggestionDays int
	Logger             *logging.Logger
}

// Service runs one inbound event through the full turn: serialize per user,
// drop redeliveries, resolve identity, step the flow, commit the effects,
// persist the session, then dispatch the reply.
type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	if deps.Locks == nil || deps.Dedup == nil || deps.Resolver == nil || deps.Sessions == nil ||
		deps.Coord == nil || deps.Logs == nil || deps.Dispatcher == nil {
		panic("conversation: missing service dependency")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.SlotSuggestionDays <= 0 {
		deps.SlotSuggestionDays = 14
	}
	return &Service{deps: deps}
}

// HandleInbound processes one normalized event. Errors are for the caller's
// log only; webhook handlers acknowledge the provider regardless.
func (s *Service) HandleInbound(ctx context.Context, ev events.Inbound) error {
	ctx, span := tracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("anabot.channel", string(ev.Channel)),
		attribute.String("anabot.event_id", ev.EventID),
	)
	started := time.Now()

	release := s.deps.Locks.Acquire(ev.Channel, ev.UserKey)
	defer release()

	seen, err := s.deps.Dedup.Seen(ctx, ev)
	if err != nil {
		// dedup storage trouble is not worth dropping the turn over
		s.deps.Logger.Warn("dedup check failed, processing anyway", "error", err, "event_id", ev.EventID)
	}
	if seen {
		s.deps.Metrics.ObserveDuplicate(string(ev.Channel))
		s.deps.Logger.Info("duplicate event dropped", "channel", ev.Channel, "event_id", ev.EventID)
		return nil
	}

	patient, err := s.deps.Resolver.Resolve(ctx, ev.Channel, ev.UserKey)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var upcoming []scheduling.Appointment
	if patient.DNI != "" {
		if upcoming, err = s.deps.Coord.Upcoming(ctx, patient.DNI); err != nil {
			s.deps.Logger.Warn("upcoming lookup failed", "error", err, "dni", patient.DNI)
		}
	}

	now := time.Now()
	rec, err := s.deps.Sessions.Load(ctx, ev.Channel, ev.UserKey, now)
	if err != nil {
		span.RecordError(err)
		return err
	}

	turn := TurnContext{
		Patient:  patient,
		Upcoming: upcoming,
		LookupDNI: func(dni string) *patients.Patient {
			p, err := s.deps.Resolver.LookupDNI(ctx, dni)
			if err != nil {
				s.deps.Logger.Warn("dni lookup failed", "error", err)
				return nil
			}
			return p
		},
	}

	out := Step(rec.State, ev, turn, s.deps.Policy, now)
	logEntry := s.runEffects(ctx, ev, &out)

	if err := s.saveWithRetry(ctx, ev, rec, out.Next, now); err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.deps.Dedup.Mark(ctx, ev); err != nil {
		s.deps.Logger.Warn("failed to mark event processed", "error", err, "event_id", ev.EventID)
	}

	logEntry.BotReply = out.Reply
	logEntry.Status = out.Next.Step
	if err := s.deps.Logs.AppendTurn(ctx, logEntry); err != nil {
		s.deps.Logger.Error("audit log write failed", "error", err, "event_id", ev.EventID)
	}

	// delivery failure is logged inside the dispatcher and never fails the turn
	_ = s.deps.Dispatcher.Send(ctx, ev.Channel, ev.UserKey, out.Reply)

	s.deps.Metrics.ObserveTurn(string(ev.Channel), out.Next.Step, time.Since(started).Seconds())
	return nil
}

func (s *Service) saveWithRetry(ctx context.Context, ev events.Inbound, rec *session.Record, next session.State, now time.Time) error {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		err := s.deps.Sessions.Save(ctx, rec, next, now)
		if err == nil {
			return nil
		}
		if !errors.Is(err, session.ErrVersionConflict) {
			return err
		}
		s.deps.Logger.Warn("session version conflict", "attempt", attempt+1, "channel", ev.Channel, "user_key", ev.UserKey)
		if attempt == saveAttempts-1 {
			break
		}
		reloaded, loadErr := s.deps.Sessions.Load(ctx, ev.Channel, ev.UserKey, now)
		if loadErr != nil {
			return loadErr
		}
		*rec = *reloaded
	}
	return ErrPersistenceConflict
}

// runEffects interprets the turn's effects. Booking failures rewrite the
// reply and state so the patient hears the truth, not the optimistic copy the
// flow produced. Returns the audit entry to append once the final reply is
// known.
func (s *Service) runEffects(ctx context.Context, ev events.Inbound, out *Outcome) LogEntry {
	entry := LogEntry{Channel: string(ev.Channel), UserKey: ev.UserKey, UserText: ev.Text}

	for _, e := range out.Effects {
		switch eff := e.(type) {
		case LogTurn:
			entry.Handoff = eff.Handoff
		case ClaimIdentity:
			if _, err := s.deps.Resolver.Claim(ctx, ev.Channel, ev.UserKey, eff.DNI, eff.Profile); err != nil {
				s.deps.Logger.Error("identity claim failed", "error", err, "dni", eff.DNI)
				s.deps.Metrics.ObserveEffect("claim_identity", "error")
				continue
			}
			s.deps.Metrics.ObserveEffect("claim_identity", "ok")
		case CreateAppointment:
			s.createAppointment(ctx, ev, out, eff)
		case CancelAppointment:
			s.cancelAppointment(ctx, out, eff)
		case RequestContact:
			record := ContactRecord{Channel: string(ev.Channel), UserKey: ev.UserKey, Text: eff.Text, Urgent: eff.Urgent}
			if err := s.deps.Logs.RecordContactRequest(ctx, record); err != nil {
				s.deps.Logger.Error("contact request write failed", "error", err)
				s.deps.Metrics.ObserveEffect("request_contact", "error")
				continue
			}
			s.deps.Metrics.ObserveEffect("request_contact", "ok")
		case SetReminderChannel:
			if err := s.deps.Coord.SetReminderChannel(ctx, eff.AppointmentID, eff.Channel); err != nil {
				s.deps.Logger.Error("reminder preference write failed", "error", err, "appointment_id", eff.AppointmentID)
				s.deps.Metrics.ObserveEffect("set_reminder", "error")
				continue
			}
			s.deps.Metrics.ObserveEffect("set_reminder", "ok")
		case ListSlots:
			out.Reply = s.appendSlotSuggestions(ctx, out.Reply, eff)
		}
	}
	return entry
}

func (s *Service) createAppointment(ctx context.Context, ev events.Inbound, out *Outcome, eff CreateAppointment) {
	dni := out.Next.PatientDNI

	var (
		appt *scheduling.Appointment
		err  error
	)
	if eff.Shift != "" {
		appt, err = s.deps.Coord.RegisterPending(ctx, dni, eff.Site, eff.Start, "")
	} else {
		appt, err = s.deps.Coord.ProposeBooking(ctx, dni, eff.Site, eff.Start, "")
	}
	if err == nil {
		if out.Next.Booking == nil {
			out.Next.Booking = &session.BookingDraft{Site: eff.Site}
		}
		out.Next.Booking.AppointmentID = appt.ID
		s.deps.Metrics.ObserveEffect("create_appointment", "ok")
		return
	}

	// the flow wrote an optimistic confirmation; replace it with the outcome
	var conflict *scheduling.SlotConflictError
	switch {
	case errors.As(err, &conflict):
		out.Next.Step = session.StepAwaitSlot
		if out.Next.Booking != nil {
			out.Next.Booking.Slot = nil
		}
		reply := "Ese horario ya está ocupado."
		if conflict.NextFree != nil {
			reply += fmt.Sprintf(" El más cercano que tengo libre es el %s.", formatSlot(*conflict.NextFree, s.loc()))
		}
		out.Reply = reply + " " + replyAskSlotGYE
		s.deps.Metrics.ObserveEffect("create_appointment", "conflict")
	case errors.Is(err, scheduling.ErrCalendarUnavailable):
		out.Next.Step = session.StepAwaitSlot
		out.Reply = replyCalendarDown
		s.deps.Metrics.ObserveEffect("create_appointment", "calendar_unavailable")
	case errors.Is(err, scheduling.ErrOutsideHours):
		out.Next.Step = session.StepAwaitSlot
		if out.Next.Booking != nil {
			out.Next.Booking.Slot = nil
		}
		out.Reply = "En ese horario no atendemos en esa sede. " + replyAskSlotGYE
		s.deps.Metrics.ObserveEffect("create_appointment", "outside_hours")
	case errors.Is(err, scheduling.ErrPastSlot):
		out.Next.Step = session.StepAwaitSlot
		if out.Next.Booking != nil {
			out.Next.Booking.Slot = nil
		}
		out.Reply = "Esa fecha ya pasó. " + replyAskSlotGYE
		s.deps.Metrics.ObserveEffect("create_appointment", "past_slot")
	default:
		s.deps.Logger.Error("booking failed", "error", err, "site", eff.Site, "channel", ev.Channel)
		out.Next.Step = session.StepMenu
		out.Reply = "Algo salió mal registrando tu cita. Por favor inténtalo de nuevo.\n\n" + replyMenu
		s.deps.Metrics.ObserveEffect("create_appointment", "error")
	}
}

func (s *Service) cancelAppointment(ctx context.Context, out *Outcome, eff CancelAppointment) {
	if _, err := s.deps.Coord.Cancel(ctx, eff.AppointmentID, eff.Reason); err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			out.Reply = "No encontré esa cita activa, puede que ya esté cancelada.\n\n" + replyMenu
		} else {
			s.deps.Logger.Error("cancellation failed", "error", err, "appointment_id", eff.AppointmentID)
			out.Reply = "No pude cancelar tu cita en este momento. Por favor inténtalo de nuevo.\n\n" + replyMenu
		}
		out.Next.Step = session.StepMenu
		s.deps.Metrics.ObserveEffect("cancel_appointment", "error")
		return
	}
	s.deps.Metrics.ObserveEffect("cancel_appointment", "ok")
}

func (s *Service) appendSlotSuggestions(ctx context.Context, reply string, eff ListSlots) string {
	var collected []time.Time
	for d := 0; d < s.deps.SlotSuggestionDays && len(collected) < 6; d++ {
		slots, err := s.deps.Coord.FreeSlots(ctx, eff.Site, eff.From.AddDate(0, 0, d))
		if err != nil {
			s.deps.Logger.Warn("free slot scan failed", "error", err, "site", eff.Site)
			break
		}
		collected = append(collected, slots...)
	}
	if len(collected) == 0 {
		return "Por ahora no veo horarios libres en los próximos días. " + replyAskSlotGYE
	}
	if len(collected) > 6 {
		collected = collected[:6]
	}
	var b strings.Builder
	b.WriteString(reply)
	for _, t := range collected {
		fmt.Fprintf(&b, "\n- %s", formatSlot(t, s.loc()))
	}
	b.WriteString("\n\n" + replyAskSlotGYE)
	return b.String()
}

func (s *Service) loc() *time.Location {
	if s.deps.Policy.Location != nil {
		return s.deps.Policy.Location
	}
	return time.UTC
}
