package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the controller's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ingress      *prometheus.CounterVec
	dropped      prometheus.Counter
	dispositions *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	active       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingress: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interceptd_ingress_events_total",
				Help: "Engine notifications received, labelled by kind.",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptd_dispatch_dropped_total",
			Help: "Notifications that could not be handed to the dispatch loop.",
		}),
		dispositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interceptd_dispositions_total",
				Help: "Intercept dispositions sent to the engine, labelled by kind.",
			},
			[]string{"disposition"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interceptd_dispatch_queue_depth",
			Help: "Items waiting in the dispatch queue.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interceptd_active_connections",
			Help: "Connections currently open through the engine.",
		}),
	}
	reg.MustRegister(m.ingress, m.dropped, m.dispositions, m.queueDepth, m.active)
	return m
}

func (m *Metrics) incIngress(kind string) {
	if m == nil {
		return
	}
	m.ingress.WithLabelValues(kind).Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) incDisposition(d string) {
	if m == nil {
		return
	}
	m.dispositions.WithLabelValues(d).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) setActive(n int64) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
