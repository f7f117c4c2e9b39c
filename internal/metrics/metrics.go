// Package metrics holds the Prometheus instruments of the bot.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "citabot"

// Metrics exposes counters and histograms for the conversation pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	inboundTotal     *prometheus.CounterVec
	duplicateTotal   prometheus.Counter
	intentTotal      *prometheus.CounterVec
	flowTotal        *prometheus.CounterVec
	collaboratorErrs *prometheus.CounterVec
	debounceParts    prometheus.Histogram
	expiredTotal     prometheus.Counter
}

// New registers the instruments on reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "events_total",
			Help:      "Inbound transport events by kind",
		}, []string{"kind"}),
		duplicateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "duplicates_total",
			Help:      "Inbound messages dropped as redeliveries",
		}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "resolved_total",
			Help:      "Classified intents by stage",
		}, []string{"stage", "intent"}),
		flowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "transitions_total",
			Help:      "Flow entries by flow name",
		}, []string{"flow"}),
		collaboratorErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "errors_total",
			Help:      "Failed calls to external collaborators",
		}, []string{"collaborator"}),
		debounceParts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "batch_parts",
			Help:      "Number of messages coalesced into one turn",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "sessions_expired_total",
			Help:      "Sessions ended by the inactivity timer",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.duplicateTotal, m.intentTotal, m.flowTotal,
		m.collaboratorErrs, m.debounceParts, m.expiredTotal)
	return m
}

func (m *Metrics) ObserveInbound(kind string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicateTotal.Inc()
}

func (m *Metrics) ObserveIntent(stage, intent string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(stage, intent).Inc()
}

func (m *Metrics) ObserveFlow(flow string) {
	if m == nil {
		return
	}
	m.flowTotal.WithLabelValues(flow).Inc()
}

func (m *Metrics) ObserveCollaboratorError(name string) {
	if m == nil {
		return
	}
	m.collaboratorErrs.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveDebounceBatch(parts int) {
	if m == nil {
		return
	}
	m.debounceParts.Observe(float64(parts))
}

func (m *Metrics) ObserveExpired() {
	if m == nil {
		return
	}
	m.expiredTotal.Inc()
}
