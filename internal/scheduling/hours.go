package scheduling

import "time"

// Sites the clinic operates.
const (
	SiteGuayaquil = "GYE"
	SiteMilagro   = "MIL"
)

// SiteLabels maps site codes to patient-facing names.
var SiteLabels = map[string]string{
	SiteGuayaquil: "Guayaquil",
	SiteMilagro:   "Milagro",
}

// Window is an open interval of clinic attention within one day, expressed as
// minutes from midnight site-local time.
type Window struct {
	OpenMinute  int
	CloseMinute int
}

// Hours holds the per-site weekly attention windows, keyed by site code and
// time.Weekday.
type Hours map[string]map[time.Weekday][]Window

// DefaultHours returns the clinic's standing schedule. Deployments override
// it through configuration before building the coordinator.
func DefaultHours() Hours {
	weekday := []Window{{OpenMinute: 9 * 60, CloseMinute: 12 * 60}, {OpenMinute: 16 * 60, CloseMinute: 20 * 60}}
	return Hours{
		SiteGuayaquil: {
			time.Monday:    weekday,
			time.Tuesday:   weekday,
			time.Wednesday: weekday,
			time.Thursday:  weekday,
			time.Friday:    weekday,
			time.Saturday:  {{OpenMinute: 9 * 60, CloseMinute: 16 * 60}},
		},
		SiteMilagro: {
			time.Monday:    {{OpenMinute: 9 * 60, CloseMinute: 13 * 60}, {OpenMinute: 15 * 60, CloseMinute: 18 * 60}},
			time.Wednesday: {{OpenMinute: 9 * 60, CloseMinute: 13 * 60}, {OpenMinute: 15 * 60, CloseMinute: 18 * 60}},
			time.Friday:    {{OpenMinute: 9 * 60, CloseMinute: 13 * 60}},
		},
	}
}

// ValidSite reports whether the code names a clinic site.
func ValidSite(site string) bool {
	_, ok := SiteLabels[site]
	return ok
}

// Within reports whether a slot of the given duration fits inside an
// attention window of the site on that local day.
func (h Hours) Within(site string, start time.Time, duration time.Duration) bool {
	windows, ok := h[site][start.Weekday()]
	if !ok {
		return false
	}
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(duration.Minutes())
	for _, w := range windows {
		if startMin >= w.OpenMinute && endMin <= w.CloseMinute {
			return true
		}
	}
	return false
}
