package patients

import (
	"time"

	"github.com/google/uuid"

	"github.com/guzmanclinic/anabot/internal/events"
)

// Patient is the canonical identity record. DNI is the natural key when the
// patient has identified themselves; provisional shells created on first
// contact carry only the surrogate id and a channel user id.
type Patient struct {
	ID        uuid.UUID
	DNI       string
	FullName  string
	BirthDate *time.Time
	Phone     string
	Email     string
	WaUserID  string
	TgUserID  string
	CreatedAt time.Time
}

// Provisional reports whether the patient has not supplied a dni yet.
func (p *Patient) Provisional() bool {
	return p == nil || p.DNI == ""
}

// ChannelUserID returns the stored user id for the given channel.
func (p *Patient) ChannelUserID(ch events.Channel) string {
	if p == nil {
		return ""
	}
	if ch == events.ChannelWhatsApp {
		return p.WaUserID
	}
	return p.TgUserID
}

// Profile carries the identity fields collected during a conversation.
type Profile struct {
	FullName  string
	BirthDate *time.Time
	Phone     string
	Email     string
}
