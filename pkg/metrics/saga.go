package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagaRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_runs_total",
			Help: "Total number of saga runs by terminal status",
		},
		[]string{"status"},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_run_duration_seconds",
			Help:    "Saga run duration in seconds",
			Buckets: cfg.SagaDurationBuckets,
		},
		[]string{"status"},
	)

	m.sagaActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_active_runs",
			Help: "Current number of active saga runs",
		},
	)

	m.sagaCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of compensation phases by status",
		},
		[]string{"status"},
	)

	m.sagaCompensationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saga_compensation_duration_seconds",
			Help:    "Compensation phase duration in seconds",
			Buckets: cfg.SagaDurationBuckets,
		},
	)

	m.registry.MustRegister(m.sagaRuns)
	m.registry.MustRegister(m.sagaDuration)
	m.registry.MustRegister(m.sagaActive)
	m.registry.MustRegister(m.sagaCompensations)
	m.registry.MustRegister(m.sagaCompensationDuration)
}

// RecordRun records one saga run outcome.
func (m *Manager) RecordRun(status string) {
	if !m.enabled {
		return
	}
	m.sagaRuns.WithLabelValues(status).Inc()
}

// RecordRunDuration records saga run latency.
func (m *Manager) RecordRunDuration(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveRuns increments current active run count.
func (m *Manager) IncActiveRuns() {
	if !m.enabled {
		return
	}
	m.sagaActive.Inc()
}

// DecActiveRuns decrements current active run count.
func (m *Manager) DecActiveRuns() {
	if !m.enabled {
		return
	}
	m.sagaActive.Dec()
}

// RecordCompensation records one compensation phase outcome.
func (m *Manager) RecordCompensation(status string) {
	if !m.enabled {
		return
	}
	m.sagaCompensations.WithLabelValues(status).Inc()
}

// RecordCompensationDuration records compensation phase duration.
func (m *Manager) RecordCompensationDuration(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaCompensationDuration.Observe(duration.Seconds())
}
