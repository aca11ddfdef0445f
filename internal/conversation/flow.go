package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/internal/patients"
	"github.com/guzmanclinic/anabot/internal/scheduling"
	"github.com/guzmanclinic/anabot/internal/session"
)

// Identity collection stages.
const (
	stageDNI   = "dni"
	stageName  = "name"
	stageBirth = "birth"
	stagePhone = "phone"
	stageEmail = "email"
)

// Milagro shifts.
const (
	shiftMorning   = "manana"
	shiftAfternoon = "tarde"
)

// Cancellation sub-stages.
const (
	cancelSelect = "select"
	cancelReason = "reason"
)

// Policy holds the tunable flow constants.
type Policy struct {
	MissLimit   int
	IdleTimeout time.Duration
	Location    *time.Location
}

// TurnContext carries the read-only facts the service gathered before
// stepping. LookupDNI is a read; all writes go through effects.
type TurnContext struct {
	Patient   *patients.Patient
	Upcoming  []scheduling.Appointment
	LookupDNI func(dni string) *patients.Patient
}

// Outcome is the full result of one turn: the state to persist, the reply to
// send, and the side effects to run.
type Outcome struct {
	Next    session.State
	Reply   string
	Effects []Effect
}

// Step advances the conversation by one inbound message. Pure: no I/O, no
// clock reads, fully determined by its arguments.
func Step(st session.State, ev events.Inbound, turn TurnContext, pol Policy, now time.Time) Outcome {
	if pol.MissLimit <= 0 {
		pol.MissLimit = 3
	}
	if pol.Location == nil {
		pol.Location = time.UTC
	}

	f := &flow{st: st, ev: ev, turn: turn, pol: pol, now: now, text: normalizeText(ev.Text)}
	f.run()

	f.st.LastActivity = now
	out := Outcome{Next: f.st, Reply: f.reply, Effects: f.effects}
	handoff := false
	for _, e := range out.Effects {
		if _, ok := e.(RequestContact); ok {
			handoff = true
		}
	}
	out.Effects = append(out.Effects, LogTurn{
		UserText: ev.Text,
		Reply:    out.Reply,
		Status:   out.Next.Step,
		Handoff:  handoff,
	})
	return out
}

type flow struct {
	st      session.State
	ev      events.Inbound
	turn    TurnContext
	pol     Policy
	now     time.Time
	text    string
	reply   string
	effects []Effect
}

func (f *flow) run() {
	if isRedFlag(f.text) {
		f.st.Step = session.StepEscalated
		f.effects = append(f.effects, RequestContact{Text: f.ev.Text, Urgent: true})
		f.reply = replyRedFlag
		return
	}

	// global keys work from any state
	switch f.text {
	case "0":
		f.st.Step = session.StepEscalated
		f.effects = append(f.effects, RequestContact{Text: f.ev.Text})
		f.reply = replyEscalated
		return
	case "9":
		f.goHome(replyMenu)
		return
	}

	var idlePrefix string
	if f.st.Step != session.StepStart && f.st.Idle(f.now, f.pol.IdleTimeout) {
		// drop back to the menu but keep the drafts for one retry
		f.st.Step = session.StepMenu
		f.st.IdleNotified = true
		idlePrefix = replyIdleNotice + "\n\n"
	} else {
		f.st.IdleNotified = false
	}

	switch f.st.Step {
	case session.StepStart:
		f.stepStart()
	case session.StepAwaitIdentity:
		f.stepIdentity()
	case session.StepMenu:
		f.stepMenu()
	case session.StepAwaitSite:
		f.stepSite()
	case session.StepAwaitSlot:
		f.stepSlot()
	case session.StepAwaitConfirm:
		f.stepConfirm()
	case session.StepBooked:
		f.stepReminder()
	case session.StepAwaitCancelReason:
		f.stepCancel()
	case session.StepEscalated:
		f.reply = replyEscalated
	default:
		f.goHome(replyMenu)
	}
	f.reply = idlePrefix + f.reply
}

// goHome resets to the menu, discarding branch drafts but keeping identity.
func (f *flow) goHome(reply string) {
	f.st.Step = session.StepMenu
	f.st.Booking = nil
	f.st.Cancel = nil
	f.st.Identity = nil
	f.st.MissCount = 0
	f.reply = reply
}

// miss counts an unrecognized input and escalates past the limit.
func (f *flow) miss(reprompt string) {
	f.st.MissCount++
	if f.st.MissCount >= f.pol.MissLimit {
		f.st.Step = session.StepEscalated
		f.st.MissCount = 0
		f.effects = append(f.effects, RequestContact{Text: f.ev.Text})
		f.reply = "Lo siento, no logro entenderte. " + replyEscalated
		return
	}
	f.reply = replyNotUnderstood + " " + reprompt
}

// hit marks a recognized input.
func (f *flow) hit() { f.st.MissCount = 0 }

func (f *flow) stepStart() {
	f.st.Greeted = true
	hello := greeting(f.now, f.pol.Location) + " Soy Ana, la asistente virtual de la Clínica Guzmán."
	if p := f.turn.Patient; p != nil && p.DNI != "" {
		f.st.PatientDNI = p.DNI
		f.st.Step = session.StepMenu
		again := "Qué gusto saludarte de nuevo."
		if name := firstName(p.FullName); name != "" {
			again = fmt.Sprintf("Qué gusto saludarte de nuevo, %s.", name)
		}
		f.reply = fmt.Sprintf("%s %s\n\n%s", hello, again, replyMenu)
		return
	}
	f.st.Step = session.StepAwaitIdentity
	f.st.Identity = &session.IdentityDraft{Stage: stageDNI}
	f.reply = hello + "\n\n" + replyAskDNI
}

func (f *flow) stepIdentity() {
	if f.st.Identity == nil {
		f.st.Identity = &session.IdentityDraft{Stage: stageDNI}
	}
	d := f.st.Identity

	switch d.Stage {
	case stageDNI:
		if isSkip(f.text) {
			f.hit()
			f.goHome("De acuerdo, seguimos sin registro.\n\n" + replyMenu)
			return
		}
		if !isDNIShaped(f.text) {
			f.miss(replyBadDNI)
			return
		}
		f.hit()
		dni := strings.ToUpper(f.text)
		if f.turn.LookupDNI != nil {
			if known := f.turn.LookupDNI(dni); known != nil && known.FullName != "" {
				// returning patient on a new channel: claim and skip the census
				f.effects = append(f.effects, ClaimIdentity{DNI: dni})
				f.st.PatientDNI = dni
				f.goHome(fmt.Sprintf("¡Gracias, %s! Ya te encontré en nuestro registro.\n\n%s", firstName(known.FullName), replyMenu))
				return
			}
		}
		d.DNI = dni
		d.Stage = stageName
		f.reply = replyAskName
	case stageName:
		name := strings.TrimSpace(f.ev.Text)
		if len(strings.Fields(name)) < 2 {
			f.miss(replyBadName)
			return
		}
		f.hit()
		d.FullName = name
		d.Stage = stageBirth
		f.reply = replyAskBirth
	case stageBirth:
		birth, ok := parseBirthDate(f.text)
		if !ok {
			f.miss(replyBadBirth)
			return
		}
		f.hit()
		d.BirthDate = &birth
		d.Stage = stagePhone
		f.reply = replyAskPhone
	case stagePhone:
		phone, ok := parsePhone(f.text)
		if !ok {
			f.miss(replyBadPhone)
			return
		}
		f.hit()
		d.Phone = phone
		d.Stage = stageEmail
		f.reply = replyAskEmail
	case stageEmail:
		if isSkip(f.text) {
			f.hit()
			f.finishIdentity("")
			return
		}
		if !validEmail(f.text) {
			f.miss(replyBadEmail)
			return
		}
		f.hit()
		f.finishIdentity(f.text)
	default:
		d.Stage = stageDNI
		f.reply = replyAskDNI
	}
}

func (f *flow) finishIdentity(email string) {
	d := f.st.Identity
	f.effects = append(f.effects, ClaimIdentity{
		DNI: d.DNI,
		Profile: patients.Profile{
			FullName:  d.FullName,
			BirthDate: d.BirthDate,
			Phone:     d.Phone,
			Email:     email,
		},
	})
	f.st.PatientDNI = d.DNI
	f.goHome(fmt.Sprintf("¡Listo, %s! Ya quedaste registrado.\n\n%s", firstName(d.FullName), replyMenu))
}

func (f *flow) stepMenu() {
	switch {
	case isGreeting(f.text):
		f.hit()
		f.reply = replyMenu
	case f.text == "2" || strings.Contains(f.text, "cancelar") || strings.Contains(f.text, "anular"):
		f.hit()
		f.startCancel()
	case f.text == "3" || strings.Contains(f.text, "consultar") || strings.Contains(f.text, "mis citas"):
		f.hit()
		if len(f.turn.Upcoming) == 0 {
			f.reply = replyNoAppointments + "\n\n" + replyMenu
			return
		}
		f.reply = "Estas son tus próximas citas:\n" + listAppointments(f.turn.Upcoming, f.pol.Location) + "\n\n" + replyMenu
	case f.text == "1" || strings.Contains(f.text, "agendar") || strings.Contains(f.text, "reservar") || strings.Contains(f.text, "cita"):
		f.hit()
		f.startBooking()
	default:
		f.miss(replyMenu)
	}
}

func (f *flow) startBooking() {
	if b := f.st.Booking; b != nil && b.Site != "" && b.AppointmentID == 0 {
		// resume the draft an idle reset preserved
		f.st.Step = session.StepAwaitSlot
		if b.Site == scheduling.SiteMilagro {
			if b.Shift == "" {
				f.reply = replyAskShiftMIL
			} else {
				f.reply = replyAskDayMIL
			}
			return
		}
		f.reply = replyAskSlotGYE
		return
	}
	f.st.Booking = &session.BookingDraft{}
	f.st.Step = session.StepAwaitSite
	f.reply = replyAskSite
}

func (f *flow) startCancel() {
	active := f.turn.Upcoming
	if len(active) == 0 {
		f.reply = replyNoAppointments + "\n\n" + replyMenu
		return
	}
	if len(active) == 1 {
		f.st.Cancel = &session.CancelDraft{
			Stage:         cancelReason,
			AppointmentID: active[0].ID,
			Label:         appointmentLabel(active[0], f.pol.Location),
		}
		f.st.Step = session.StepAwaitCancelReason
		f.reply = fmt.Sprintf("Vas a cancelar: %s.\n%s", f.st.Cancel.Label, replyAskReason)
		return
	}
	draft := &session.CancelDraft{Stage: cancelSelect}
	for _, a := range active {
		draft.Options = append(draft.Options, session.CancelOption{
			AppointmentID: a.ID,
			Label:         appointmentLabel(a, f.pol.Location),
		})
	}
	f.st.Cancel = draft
	f.st.Step = session.StepAwaitCancelReason
	f.reply = listAppointments(active, f.pol.Location) + "\n\n" + replyAskCancelWhich
}

func (f *flow) stepSite() {
	switch {
	case f.text == "1" || strings.Contains(f.text, "guayaquil") || f.text == "gye":
		f.hit()
		f.st.Booking.Site = scheduling.SiteGuayaquil
		f.st.Step = session.StepAwaitSlot
		f.reply = replyAskSlotGYE
	case f.text == "2" || strings.Contains(f.text, "milagro") || f.text == "mil":
		f.hit()
		f.st.Booking.Site = scheduling.SiteMilagro
		f.st.Step = session.StepAwaitSlot
		f.reply = replyAskShiftMIL
	default:
		f.miss(replyAskSite)
	}
}

func (f *flow) stepSlot() {
	b := f.st.Booking
	if b == nil || b.Site == "" {
		f.goHome(replyMenu)
		return
	}

	if b.Site == scheduling.SiteMilagro {
		f.stepSlotMilagro(b)
		return
	}

	if f.text == "opciones" || f.text == "horarios" {
		f.hit()
		f.effects = append(f.effects, ListSlots{Site: b.Site, From: f.now})
		f.reply = "Estos son los próximos horarios disponibles:"
		return
	}
	slot, ok := parseSlot(f.text, f.now, f.pol.Location)
	if !ok {
		f.miss(replyAskSlotGYE)
		return
	}
	if !slot.After(f.now) {
		f.miss("Esa fecha ya pasó. " + replyAskSlotGYE)
		return
	}
	f.hit()
	b.Slot = &slot
	f.st.Step = session.StepAwaitConfirm
	f.reply = confirmPrompt(b.Site, slot, "", f.pol.Location)
}

func (f *flow) stepSlotMilagro(b *session.BookingDraft) {
	if b.Shift == "" {
		switch f.text {
		case "1", "mañana", "manana":
			f.hit()
			b.Shift = shiftMorning
			f.reply = replyAskDayMIL
		case "2", "tarde":
			f.hit()
			b.Shift = shiftAfternoon
			f.reply = replyAskDayMIL
		default:
			f.miss(replyAskShiftMIL)
		}
		return
	}

	day, ok := parseDay(f.text, f.now, f.pol.Location)
	if !ok {
		f.miss(replyAskDayMIL)
		return
	}
	hour := 9
	if b.Shift == shiftAfternoon {
		hour = 15
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, f.pol.Location)
	if !start.After(f.now) {
		f.miss("Ese día ya pasó. " + replyAskDayMIL)
		return
	}
	f.hit()
	b.Day = f.text
	b.Slot = &start
	f.st.Step = session.StepAwaitConfirm
	f.reply = confirmPrompt(b.Site, start, b.Shift, f.pol.Location)
}

func (f *flow) stepConfirm() {
	b := f.st.Booking
	if b == nil || b.Slot == nil {
		f.goHome(replyMenu)
		return
	}
	switch {
	case isYes(f.text):
		f.hit()
		f.effects = append(f.effects, CreateAppointment{Site: b.Site, Start: *b.Slot, Shift: b.Shift})
		f.st.Step = session.StepBooked
		if b.Shift != "" {
			f.reply = fmt.Sprintf("Quedaste registrado para el %s en el turno de la %s. La clínica te confirmará la hora exacta.\n\n%s",
				formatDay(*b.Slot, f.pol.Location), shiftLabel(b.Shift), replyAskReminder)
			return
		}
		f.reply = fmt.Sprintf("¡Listo! Tu cita en %s quedó registrada para el %s.\n\n%s",
			scheduling.SiteLabels[b.Site], formatSlot(*b.Slot, f.pol.Location), replyAskReminder)
	case isNo(f.text):
		f.hit()
		f.st.Booking = &session.BookingDraft{}
		f.st.Step = session.StepAwaitSite
		f.reply = replyDeny
	default:
		f.miss("Responde sí o no, por favor.")
	}
}

func (f *flow) stepReminder() {
	b := f.st.Booking
	if b == nil || b.AppointmentID == 0 {
		f.goHome(replyMenu)
		return
	}
	switch {
	case f.text == "1" || f.text == "chat" || f.text == "whatsapp" || f.text == "telegram":
		f.hit()
		f.effects = append(f.effects, SetReminderChannel{AppointmentID: b.AppointmentID, Channel: string(f.ev.Channel)})
		f.goHome("Perfecto, te enviaré el recordatorio por este chat.\n\n" + replyMenu)
	case f.text == "2" || f.text == "correo" || f.text == "email":
		f.hit()
		f.effects = append(f.effects, SetReminderChannel{AppointmentID: b.AppointmentID, Channel: "email"})
		f.goHome("Perfecto, te enviaré el recordatorio por correo.\n\n" + replyMenu)
	case isSkip(f.text):
		f.hit()
		f.goHome("De acuerdo, sin recordatorio.\n\n" + replyMenu)
	default:
		f.miss(replyAskReminder)
	}
}

func (f *flow) stepCancel() {
	c := f.st.Cancel
	if c == nil {
		f.goHome(replyMenu)
		return
	}
	if c.Stage == cancelSelect {
		idx, err := strconv.Atoi(f.text)
		if err != nil || idx < 1 || idx > len(c.Options) {
			f.miss(replyAskCancelWhich)
			return
		}
		f.hit()
		chosen := c.Options[idx-1]
		c.AppointmentID = chosen.AppointmentID
		c.Label = chosen.Label
		c.Stage = cancelReason
		c.Options = nil
		f.reply = fmt.Sprintf("Vas a cancelar: %s.\n%s", c.Label, replyAskReason)
		return
	}

	reason := strings.TrimSpace(f.ev.Text)
	if reason == "" {
		f.miss(replyAskReason)
		return
	}
	f.hit()
	f.effects = append(f.effects, CancelAppointment{AppointmentID: c.AppointmentID, Label: c.Label, Reason: reason})
	label := c.Label
	f.goHome(fmt.Sprintf("Tu cita (%s) fue cancelada. Esperamos verte pronto.\n\n%s", label, replyMenu))
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
