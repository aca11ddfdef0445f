package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the conversation
// pipeline.
type ConversationMetrics struct {
	turnsTotal     *prometheus.CounterVec
	duplicateTotal *prometheus.CounterVec
	effectsTotal   *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	remindersTotal *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anabot",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total processed inbound turns",
		}, []string{"channel", "status"}),
		duplicateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anabot",
			Subsystem: "conversation",
			Name:      "duplicate_events_total",
			Help:      "Inbound events dropped as provider redeliveries",
		}, []string{"channel"}),
		effectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anabot",
			Subsystem: "conversation",
			Name:      "effects_total",
			Help:      "Side effects executed per kind",
		}, []string{"kind", "status"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anabot",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "Latency of the full load-decide-commit-dispatch turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anabot",
			Subsystem: "reminders",
			Name:      "sent_total",
			Help:      "Appointment reminders delivered per channel",
		}, []string{"channel", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.duplicateTotal, m.effectsTotal, m.turnLatency, m.remindersTotal)
	return m
}

func (m *ConversationMetrics) ObserveTurn(channel, status string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(channel, status).Inc()
	m.turnLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *ConversationMetrics) ObserveDuplicate(channel string) {
	if m == nil {
		return
	}
	m.duplicateTotal.WithLabelValues(channel).Inc()
}

func (m *ConversationMetrics) ObserveEffect(kind, status string) {
	if m == nil {
		return
	}
	m.effectsTotal.WithLabelValues(kind, status).Inc()
}

func (m *ConversationMetrics) ObserveReminder(channel, status string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(channel, status).Inc()
}
