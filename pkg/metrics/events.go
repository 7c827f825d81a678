package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initEventMetrics() {
	m.eventPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publishes_total",
			Help: "Total number of domain event publish attempts by outcome",
		},
		[]string{"event_type", "status"},
	)

	m.eventRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "event_publish_retries_total",
			Help: "Total number of event publish retries",
		},
	)

	m.eventDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_bus_degraded",
			Help: "1 when the event bus is considered degraded, 0 otherwise",
		},
	)

	m.registry.MustRegister(m.eventPublishes)
	m.registry.MustRegister(m.eventRetries)
	m.registry.MustRegister(m.eventDegraded)
}

// RecordPublish records one event publish outcome.
func (m *Manager) RecordPublish(eventType, status string) {
	if !m.enabled {
		return
	}
	m.eventPublishes.WithLabelValues(eventType, status).Inc()
}

// RecordRetry records one event publish retry.
func (m *Manager) RecordRetry() {
	if !m.enabled {
		return
	}
	m.eventRetries.Inc()
}

// SetDegradedMode flags the event bus degraded state.
func (m *Manager) SetDegradedMode(active bool) {
	if !m.enabled {
		return
	}
	if active {
		m.eventDegraded.Set(1)
		return
	}
	m.eventDegraded.Set(0)
}
