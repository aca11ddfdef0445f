package conversation

import (
	"time"

	"github.com/guzmanclinic/anabot/internal/patients"
)

// Effect is an I/O intent emitted by a turn. The flow never performs I/O
// itself; the service interprets the effects after stepping.
type Effect interface{ effect() }

// LogTurn appends the turn to the conversation audit log. Every processed
// turn emits exactly one.
type LogTurn struct {
	UserText string
	Reply    string
	Status   string
	Handoff  bool
}

// ClaimIdentity binds the collected dni and profile to the patient record,
// merging into an existing record when the dni is already known.
type ClaimIdentity struct {
	DNI     string
	Profile patients.Profile
}

// CreateAppointment books a slot. Guayaquil bookings reserve an exact slot on
// the calendar; Milagro bookings carry a shift and stay unscheduled until the
// clinic assigns the time.
type CreateAppointment struct {
	Site  string
	Start time.Time
	Shift string
}

// CancelAppointment cancels an active appointment with the patient's reason.
type CancelAppointment struct {
	AppointmentID int64
	Label         string
	Reason        string
}

// RequestContact records a human-handoff request with the raw text that
// triggered it.
type RequestContact struct {
	Text   string
	Urgent bool
}

// SetReminderChannel stores the patient's reminder preference for a booking.
type SetReminderChannel struct {
	AppointmentID int64
	Channel       string
}

// ListSlots asks the service to append available slot suggestions for a site
// to the reply. Read-only.
type ListSlots struct {
	Site string
	From time.Time
}

func (LogTurn) effect()            {}
func (ClaimIdentity) effect()      {}
func (CreateAppointment) effect()  {}
func (CancelAppointment) effect()  {}
func (RequestContact) effect()     {}
func (SetReminderChannel) effect() {}
func (ListSlots) effect()          {}
