package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/guzmanclinic/anabot/internal/calendar"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

var schedulingTracer = otel.Tracer("anabot.internal.scheduling")

// ErrCalendarUnavailable means the external calendar write failed and no
// appointment row was created.
var ErrCalendarUnavailable = errors.New("scheduling: calendar unavailable")

// ErrOutsideHours means the requested start does not fit the site's
// attention windows.
var ErrOutsideHours = errors.New("scheduling: outside operating hours")

// ErrPastSlot means the requested start is not in the future.
var ErrPastSlot = errors.New("scheduling: slot is in the past")

// SlotConflictError reports an occupied slot along with the earliest free
// alternative found within the lookahead policy, when one exists.
type SlotConflictError struct {
	Requested time.Time
	NextFree  *time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("scheduling: slot %s already taken", e.Requested.Format("2006-01-02 15:04"))
}

// Policy carries the slot sizing rules, loaded from configuration.
type Policy struct {
	Duration  time.Duration
	Gap       time.Duration
	Lookahead time.Duration
	Location  *time.Location
}

func (p Policy) step() time.Duration { return p.Duration + p.Gap }

// Coordinator validates requested slots against local bookings and the
// external calendar and commits confirmed bookings.
type Coordinator struct {
	repo   *Repository
	cal    calendar.Client
	hours  Hours
	policy Policy
	logger *logging.Logger
}

func NewCoordinator(repo *Repository, cal calendar.Client, hours Hours, policy Policy, logger *logging.Logger) *Coordinator {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if cal == nil {
		panic("scheduling: calendar client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if len(hours) == 0 {
		hours = DefaultHours()
	}
	return &Coordinator{repo: repo, cal: cal, hours: hours, policy: policy, logger: logger}
}

// conflicts reports whether the candidate slot overlaps any existing booking.
// Existing bookings are padded with the gap on both sides so consecutive
// slots keep exactly one gap between them.
func conflicts(candidate time.Time, duration, gap time.Duration, existing []Appointment) bool {
	candEnd := candidate.Add(duration)
	for _, booked := range existing {
		bookedStart := booked.StartsAt.Add(-gap)
		bookedEnd := booked.End().Add(gap)
		if candidate.Before(bookedEnd) && bookedStart.Before(candEnd) {
			return true
		}
	}
	return false
}

// ProposeBooking validates the requested start, reserves the block on the
// external calendar and only then creates the local appointment row. The
// calendar-first ordering means a failed local insert can orphan a calendar
// event, but a double booking against the source of truth cannot happen.
func (c *Coordinator) ProposeBooking(ctx context.Context, patientDNI, site string, start time.Time, reminderChannel string) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.propose_booking")
	defer span.End()
	span.SetAttributes(
		attribute.String("anabot.site", site),
		attribute.String("anabot.starts_at", start.Format(time.RFC3339)),
	)

	now := time.Now().In(c.policy.Location)
	local := start.In(c.policy.Location)

	if !ValidSite(site) {
		return nil, fmt.Errorf("scheduling: unknown site %q", site)
	}
	if !local.After(now) {
		return nil, ErrPastSlot
	}
	if !c.hours.Within(site, local, c.policy.Duration) {
		return nil, ErrOutsideHours
	}

	existing, err := c.activeAround(ctx, site, local)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if conflicts(local, c.policy.Duration, c.policy.Gap, existing) {
		next := c.nextFree(ctx, site, local)
		return nil, &SlotConflictError{Requested: local, NextFree: next}
	}

	event, err := c.cal.CreateEvent(ctx, calendar.EventRequest{
		Summary:  fmt.Sprintf("Cita médica %s", SiteLabels[site]),
		Location: SiteLabels[site],
		Start:    local,
		Duration: c.policy.Duration,
	})
	if err != nil {
		span.RecordError(err)
		c.logger.Error("calendar write failed, booking aborted", "error", err, "site", site, "starts_at", local)
		return nil, ErrCalendarUnavailable
	}

	appt, err := c.repo.Insert(ctx, Appointment{
		PatientDNI:      patientDNI,
		Site:            site,
		StartsAt:        local,
		DurationMinutes: int(c.policy.Duration.Minutes()),
		Status:          StatusPending,
		ReminderChannel: reminderChannel,
		CalendarEventID: event.ID,
		CalendarLink:    event.Link,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.logger.Info("booking registered", "appointment_id", appt.ID, "site", site, "starts_at", local, "calendar_event_id", event.ID)
	return appt, nil
}

// RegisterPending records a Milagro-style registration: the clinic assigns
// the exact time later, so no calendar block is reserved and the row stays
// PENDING.
func (c *Coordinator) RegisterPending(ctx context.Context, patientDNI, site string, start time.Time, reminderChannel string) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.register_pending")
	defer span.End()

	if !ValidSite(site) {
		return nil, fmt.Errorf("scheduling: unknown site %q", site)
	}
	appt, err := c.repo.Insert(ctx, Appointment{
		PatientDNI:      patientDNI,
		Site:            site,
		StartsAt:        start.In(c.policy.Location),
		DurationMinutes: int(c.policy.Duration.Minutes()),
		Status:          StatusPending,
		ReminderChannel: reminderChannel,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.logger.Info("pending registration recorded", "appointment_id", appt.ID, "site", site, "starts_at", appt.StartsAt)
	return appt, nil
}

// Cancel flips the local row first, then attempts the external calendar
// deletion as best effort. Local state stays authoritative for the patient.
func (c *Coordinator) Cancel(ctx context.Context, appointmentID int64, reason string) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.Int64("anabot.appointment_id", appointmentID))

	appt, err := c.repo.MarkCancelled(ctx, appointmentID, reason)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if appt.CalendarEventID != "" {
		if err := c.cal.DeleteEvent(ctx, appt.CalendarEventID); err != nil {
			c.logger.Warn("calendar deletion failed after local cancel", "error", err,
				"appointment_id", appt.ID, "calendar_event_id", appt.CalendarEventID)
		}
	}
	c.logger.Info("appointment cancelled", "appointment_id", appt.ID, "reason", reason)
	return appt, nil
}

// Reschedule cancels the current slot and books the new one. A conflict or
// calendar failure on the new slot leaves the original booking cancelled and
// reports the error; callers offer the patient the suggested alternative.
func (c *Coordinator) Reschedule(ctx context.Context, appointmentID int64, newStart time.Time) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule")
	defer span.End()

	current, err := c.repo.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !current.Active() {
		return nil, fmt.Errorf("scheduling: appointment %d is not active", appointmentID)
	}

	// validate the target slot before touching the existing booking
	local := newStart.In(c.policy.Location)
	existing, err := c.activeAround(ctx, current.Site, local)
	if err != nil {
		return nil, err
	}
	if conflicts(local, c.policy.Duration, c.policy.Gap, existing) {
		next := c.nextFree(ctx, current.Site, local)
		return nil, &SlotConflictError{Requested: local, NextFree: next}
	}

	if _, err := c.Cancel(ctx, appointmentID, "reagendada"); err != nil {
		return nil, err
	}
	return c.ProposeBooking(ctx, current.PatientDNI, current.Site, newStart, current.ReminderChannel)
}

// Confirm promotes a pending registration once the clinic fixes the time.
func (c *Coordinator) Confirm(ctx context.Context, appointmentID int64) (*Appointment, error) {
	appt, err := c.repo.Confirm(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("appointment confirmed", "appointment_id", appt.ID, "site", appt.Site, "starts_at", appt.StartsAt)
	return appt, nil
}

// SetReminderChannel stores where the patient wants the reminder delivered.
func (c *Coordinator) SetReminderChannel(ctx context.Context, appointmentID int64, channel string) error {
	return c.repo.SetReminderChannel(ctx, appointmentID, channel)
}

// Upcoming lists the patient's future active appointments.
func (c *Coordinator) Upcoming(ctx context.Context, patientDNI string) ([]Appointment, error) {
	return c.repo.UpcomingByDNI(ctx, patientDNI, time.Now(), 5)
}

// FreeSlots lists bookable starts for a site-local day, skipping occupied
// and already-elapsed candidates.
func (c *Coordinator) FreeSlots(ctx context.Context, site string, day time.Time) ([]time.Time, error) {
	local := day.In(c.policy.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.policy.Location)
	existing, err := c.repo.ActiveBetween(ctx, site, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	now := time.Now().In(c.policy.Location)
	var out []time.Time
	for _, w := range c.hours[site][dayStart.Weekday()] {
		candidate := dayStart.Add(time.Duration(w.OpenMinute) * time.Minute)
		windowEnd := dayStart.Add(time.Duration(w.CloseMinute) * time.Minute)
		for !candidate.Add(c.policy.Duration).After(windowEnd) {
			if candidate.After(now) && !conflicts(candidate, c.policy.Duration, c.policy.Gap, existing) {
				out = append(out, candidate)
			}
			candidate = candidate.Add(c.policy.step())
		}
	}
	return out, nil
}

// nextFree scans forward from the requested slot in step increments, bounded
// by the lookahead policy. Returns nil when everything is taken.
func (c *Coordinator) nextFree(ctx context.Context, site string, from time.Time) *time.Time {
	horizon := from.Add(c.policy.Lookahead)
	existing, err := c.repo.ActiveBetween(ctx, site, from, horizon)
	if err != nil {
		c.logger.Warn("next-free scan failed", "error", err, "site", site)
		return nil
	}
	for candidate := from.Add(c.policy.step()); candidate.Before(horizon); candidate = candidate.Add(c.policy.step()) {
		if !c.hours.Within(site, candidate, c.policy.Duration) {
			continue
		}
		if !conflicts(candidate, c.policy.Duration, c.policy.Gap, existing) {
			return &candidate
		}
	}
	return nil
}

func (c *Coordinator) activeAround(ctx context.Context, site string, around time.Time) ([]Appointment, error) {
	dayStart := time.Date(around.Year(), around.Month(), around.Day(), 0, 0, 0, 0, c.policy.Location)
	return c.repo.ActiveBetween(ctx, site, dayStart, dayStart.AddDate(0, 0, 1))
}
