// Package metrics exposes reminder engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medline"

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	fired                *prometheus.CounterVec
	suppressed           prometheus.Counter
	presented            prometheus.Counter
	acks                 *prometheus.CounterVec
	persistenceFailures  prometheus.Counter
	presentationFailures prometheus.Counter
	alarmsArmed          prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Alarm firings received from the timer.",
		}, []string{"kind"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_suppressed_total",
			Help:      "Firings dropped because the occurrence was already answered.",
		}),
		presented: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_presented_total",
			Help:      "Reminders handed to a presenter.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Acknowledgement records written, by state.",
		}, []string{"state"}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Alarm writes that failed after retry.",
		}),
		presentationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presentation_failures_total",
			Help:      "Reminders a presenter failed to show.",
		}),
		alarmsArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarms_armed",
			Help:      "Alarms currently held by the timer.",
		}),
	}

	reg.MustRegister(
		m.fired,
		m.suppressed,
		m.presented,
		m.acks,
		m.persistenceFailures,
		m.presentationFailures,
		m.alarmsArmed,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Fired(snooze bool) {
	if m == nil {
		return
	}
	kind := "scheduled"
	if snooze {
		kind = "snooze"
	}
	m.fired.WithLabelValues(kind).Inc()
}

func (m *Metrics) Suppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

func (m *Metrics) Presented() {
	if m == nil {
		return
	}
	m.presented.Inc()
}

func (m *Metrics) Ack(state string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(state).Inc()
}

func (m *Metrics) PersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) PresentationFailure() {
	if m == nil {
		return
	}
	m.presentationFailures.Inc()
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.alarmsArmed.Set(float64(n))
}
