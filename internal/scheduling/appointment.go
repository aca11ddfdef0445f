package scheduling

import "time"

// Appointment statuses. Transitions are monotonic except CONFIRMED→CANCELLED.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// Appointment is a booking row. PatientDNI may be empty until the patient's
// identity resolves.
type Appointment struct {
	ID              int64
	PatientDNI      string
	Site            string
	StartsAt        time.Time
	DurationMinutes int
	Status          string
	ReminderChannel string
	ReminderSentAt  *time.Time
	CancelReason    string
	CalendarEventID string
	CalendarLink    string
	CreatedAt       time.Time
}

// Active reports whether the appointment still occupies its slot.
func (a Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// End returns the instant the appointment's slot frees up.
func (a Appointment) End() time.Time {
	return a.StartsAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}
