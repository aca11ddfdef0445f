package session

import "time"

// Conversation steps. The zero value of State starts at StepStart.
const (
	StepStart             = "START"
	StepAwaitIdentity     = "AWAIT_IDENTITY"
	StepMenu              = "MENU"
	StepAwaitSite         = "AWAIT_SITE"
	StepAwaitSlot         = "AWAIT_SLOT"
	StepAwaitConfirm      = "AWAIT_CONFIRM"
	StepBooked            = "BOOKED"
	StepAwaitCancelReason = "AWAIT_CANCEL_REASON"
	StepEscalated         = "ESCALATED"
)

// IdentityDraft collects the fields asked for while identifying an unknown
// patient. Stage walks dni → name → birth_date → phone → email.
type IdentityDraft struct {
	Stage     string     `json:"stage"`
	DNI       string     `json:"dni,omitempty"`
	FullName  string     `json:"full_name,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
}

// BookingDraft is the partially collected booking request. AppointmentID is
// filled once the booking commits, so the reminder-preference turn can refer
// back to it.
type BookingDraft struct {
	Site          string     `json:"site,omitempty"`
	Day           string     `json:"day,omitempty"`
	Slot          *time.Time `json:"slot,omitempty"`
	Shift         string     `json:"shift,omitempty"`
	AppointmentID int64      `json:"appointment_id,omitempty"`
}

// CancelOption is one selectable appointment in the cancellation branch.
type CancelOption struct {
	AppointmentID int64  `json:"appointment_id"`
	Label         string `json:"label"`
}

// CancelDraft tracks the cancellation branch. Stage walks select → reason;
// single-appointment patients skip straight to reason.
type CancelDraft struct {
	Stage         string         `json:"stage"`
	Options       []CancelOption `json:"options,omitempty"`
	AppointmentID int64          `json:"appointment_id,omitempty"`
	Label         string         `json:"label,omitempty"`
}

// State is the durable conversation memory for one (channel, user_key) pair.
// Each step keeps only the draft it needs; drafts from other branches are nil.
type State struct {
	Step         string         `json:"step"`
	Greeted      bool           `json:"greeted,omitempty"`
	PatientDNI   string         `json:"patient_dni,omitempty"`
	Identity     *IdentityDraft `json:"identity,omitempty"`
	Booking      *BookingDraft  `json:"booking,omitempty"`
	Cancel       *CancelDraft   `json:"cancel,omitempty"`
	MissCount    int            `json:"miss_count,omitempty"`
	IdleNotified bool           `json:"idle_notified,omitempty"`
	LastActivity time.Time      `json:"last_activity"`
}

// Initial returns the state for a first-contact session.
func Initial(now time.Time) State {
	return State{Step: StepStart, LastActivity: now}
}

// Idle reports whether the session has been inactive longer than the timeout.
func (s State) Idle(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) > timeout
}
