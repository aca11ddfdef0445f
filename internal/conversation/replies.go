package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/guzmanclinic/anabot/internal/scheduling"
)

// Patient-facing copy. Kept in one place so the clinic can review the tone
// without reading the flow logic.
const (
	replyMenu = "¿En qué te puedo ayudar?\n" +
		"1) Agendar una cita\n" +
		"2) Cancelar una cita\n" +
		"3) Consultar mis citas\n\n" +
		"Escribe 0 para hablar con una persona o 9 para volver al inicio."

	replyAskDNI = "Para ayudarte mejor, indícame tu número de cédula o pasaporte. " +
		"Si prefieres no darlo ahora, escribe \"omitir\"."
	replyAskName    = "Gracias. ¿Cuál es tu nombre completo?"
	replyAskBirth   = "¿Cuál es tu fecha de nacimiento? (dd/mm/aaaa)"
	replyAskPhone   = "¿A qué número de teléfono te podemos contactar?"
	replyAskEmail   = "Por último, ¿cuál es tu correo electrónico? Escribe \"omitir\" si no tienes."
	replyBadDNI     = "Ese número no parece una cédula (10 dígitos) ni un pasaporte. Inténtalo de nuevo o escribe \"omitir\"."
	replyBadName    = "Necesito tu nombre y apellido completos, por favor."
	replyBadBirth   = "No pude leer esa fecha. Usa el formato dd/mm/aaaa, por ejemplo 15/04/1980."
	replyBadPhone   = "Ese teléfono no parece válido. Escríbelo solo con números, por ejemplo 0991234567."
	replyBadEmail   = "Ese correo no parece válido. Inténtalo de nuevo o escribe \"omitir\"."
	replyAskSite    = "¿En qué sede te atendemos?\n1) Guayaquil\n2) Milagro"
	replyAskSlotGYE = "Indícame la fecha y hora que prefieres (por ejemplo: 10/03 15:00). " +
		"Escribe \"opciones\" para ver los horarios disponibles."
	replyAskShiftMIL = "En Milagro atendemos por turnos. ¿Prefieres el turno de la mañana (1) o de la tarde (2)?"
	replyAskDayMIL   = "¿Para qué día? Puedes escribir \"hoy\", \"mañana\" o una fecha (dd/mm)."
	replyDeny        = "Sin problema, no agendé nada. " + replyAskSite
	replyAskReminder = "¿Dónde quieres recibir el recordatorio de tu cita?\n" +
		"1) Por este chat\n2) Por correo electrónico\nEscribe \"omitir\" si no deseas recordatorio."
	replyNoAppointments = "No encontré citas activas a tu nombre."
	replyAskCancelWhich = "¿Cuál de tus citas deseas cancelar? Responde con el número."
	replyAskReason      = "¿Me cuentas brevemente el motivo de la cancelación?"
	replyEscalated      = "Entendido, un miembro de nuestro equipo te contactará pronto. " +
		"Escribe 9 si deseas volver al menú."
	replyRedFlag = "Por lo que me cuentas, es importante que recibas atención inmediata. " +
		"Si es una emergencia llama al 911 o acude a urgencias. " +
		"Ya avisé a nuestro equipo para que te contacte de inmediato."
	replyNotUnderstood = "Disculpa, no te entendí."
	replyCalendarDown  = "En este momento no puedo confirmar la agenda. Por favor inténtalo de nuevo en unos minutos."
	replyIdleNotice    = "Ha pasado un tiempo desde tu último mensaje, retomemos."
)

// greeting returns the daypart salutation in clinic-local time.
func greeting(now time.Time, loc *time.Location) string {
	switch h := now.In(loc).Hour(); {
	case h < 12:
		return "¡Buenos días!"
	case h < 19:
		return "¡Buenas tardes!"
	default:
		return "¡Buenas noches!"
	}
}

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

var spanishWeekdays = [...]string{
	"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado",
}

// FormatSlotSpanish renders an instant as patient-facing Spanish, e.g.
// "lunes 10 de marzo a las 15:00". Reminder messages reuse it.
func FormatSlotSpanish(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%s %d de %s a las %02d:%02d",
		spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1], t.Hour(), t.Minute())
}

func formatSlot(t time.Time, loc *time.Location) string {
	return FormatSlotSpanish(t, loc)
}

// appointmentLabel is the short description used in cancel/consult listings.
func appointmentLabel(a scheduling.Appointment, loc *time.Location) string {
	label := fmt.Sprintf("%s, %s", scheduling.SiteLabels[a.Site], formatSlot(a.StartsAt, loc))
	if a.Status == scheduling.StatusPending && a.CalendarEventID == "" {
		label += " (por confirmar)"
	}
	return label
}

func listAppointments(appts []scheduling.Appointment, loc *time.Location) string {
	var b strings.Builder
	for i, a := range appts {
		fmt.Fprintf(&b, "%d) %s\n", i+1, appointmentLabel(a, loc))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatDay renders just the date part, e.g. "lunes 10 de marzo".
func formatDay(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%s %d de %s", spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1])
}

func confirmPrompt(site string, start time.Time, shift string, loc *time.Location) string {
	if shift != "" {
		return fmt.Sprintf("¿Confirmo tu cita en %s el %s en el turno de la %s? (sí/no)",
			scheduling.SiteLabels[site], formatDay(start, loc), shiftLabel(shift))
	}
	return fmt.Sprintf("¿Confirmo tu cita en %s el %s? (sí/no)",
		scheduling.SiteLabels[site], formatSlot(start, loc))
}

func shiftLabel(shift string) string {
	if shift == shiftAfternoon {
		return "tarde"
	}
	return "mañana"
}
