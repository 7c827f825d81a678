package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initTransferMetrics(cfg Config) {
	m.transferOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Total number of transfers by terminal status",
		},
		[]string{"status"},
	)

	m.transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfer_duration_seconds",
			Help:    "Transfer settlement duration in seconds",
			Buckets: cfg.TransferDurationBuckets,
		},
		[]string{"status"},
	)

	m.transferAmounts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_amount",
			Help:    "Distribution of transfer amounts",
			Buckets: cfg.TransferAmountBuckets,
		},
	)

	m.registry.MustRegister(m.transferOutcomes)
	m.registry.MustRegister(m.transferDuration)
	m.registry.MustRegister(m.transferAmounts)
}

// RecordTransfer records one transfer outcome.
func (m *Manager) RecordTransfer(status string) {
	if !m.enabled {
		return
	}
	m.transferOutcomes.WithLabelValues(status).Inc()
}

// RecordTransferDuration records transfer settlement latency.
func (m *Manager) RecordTransferDuration(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.transferDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTransferAmount records the amount of an accepted transfer.
func (m *Manager) RecordTransferAmount(amount float64) {
	if !m.enabled {
		return
	}
	m.transferAmounts.Observe(amount)
}
