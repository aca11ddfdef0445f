package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spaceRun = regexp.MustCompile(`\s+`)

// normalizeText lowercases the input and collapses whitespace. Accents are
// kept; keyword tables list both spellings where patients drop them.
func normalizeText(s string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

var (
	cedulaPattern   = regexp.MustCompile(`^\d{10}$`)
	passportPattern = regexp.MustCompile(`^[a-z0-9]{6,12}$`)
	digitsOnly      = regexp.MustCompile(`[^\d]`)
)

// isDNIShaped accepts a 10-digit Ecuadorian cédula or an alphanumeric
// passport number containing at least one letter.
func isDNIShaped(text string) bool {
	if cedulaPattern.MatchString(text) {
		return true
	}
	return passportPattern.MatchString(text) && strings.IndexFunc(text, func(r rune) bool {
		return r >= 'a' && r <= 'z'
	}) >= 0
}

func isGreeting(text string) bool {
	for _, g := range []string{"hola", "buenas", "buenos días", "buenos dias", "buenas tardes", "buenas noches", "saludos", "hey"} {
		if text == g || strings.HasPrefix(text, g+" ") {
			return true
		}
	}
	return false
}

func isYes(text string) bool {
	switch text {
	case "si", "sí", "s", "1", "confirmo", "confirmar", "ok", "dale", "claro", "de acuerdo":
		return true
	}
	return false
}

func isNo(text string) bool {
	switch text {
	case "no", "n", "2", "negativo", "mejor no":
		return true
	}
	return false
}

func isSkip(text string) bool {
	return text == "omitir" || text == "skip" || text == "saltar"
}

func parseBirthDate(text string) (time.Time, bool) {
	for _, layout := range []string{"02/01/2006", "2/1/2006", "02-01-2006"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parsePhone(text string) (string, bool) {
	digits := digitsOnly.ReplaceAllString(text, "")
	if len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	return digits, true
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(text string) bool {
	return emailPattern.MatchString(text)
}

// parseSlot reads a requested appointment instant. Accepted shapes:
// "2025-03-10T15:00", "10/03 15:00", "10/03/2025 15:00", "hoy 15:00",
// "mañana 15:00". Day/month forms without a year land on the next
// occurrence.
func parseSlot(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	now = now.In(loc)
	// normalizeText lowercases the turn before it gets here, so the ISO
	// layout must accept a lowercase t too.
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02t15:04", "02/01/2006 15:04"} {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, true
		}
	}

	fields := strings.SplitN(text, " ", 2)
	if len(fields) != 2 {
		return time.Time{}, false
	}
	day, ok := parseDay(fields[0], now, loc)
	if !ok {
		return time.Time{}, false
	}
	hh, mm, ok := parseClock(fields[1])
	if !ok {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc), true
}

// parseDay reads "hoy", "mañana", "dd/mm" or "dd/mm/yyyy" into a date at
// midnight clinic time.
func parseDay(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch text {
	case "hoy":
		return today, true
	case "mañana", "manana":
		return today.AddDate(0, 0, 1), true
	}
	if t, err := time.ParseInLocation("02/01/2006", text, loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("02/01", text, loc); err == nil {
		candidate := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if candidate.Before(today) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, true
	}
	return time.Time{}, false
}

func parseClock(text string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(text), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}
