package saga

import "time"

// MetricsRecorder records saga runtime metrics.
type MetricsRecorder interface {
	RecordRun(status string)
	RecordRunDuration(status string, duration time.Duration)
	IncActiveRuns()
	DecActiveRuns()
	RecordCompensation(status string)
	RecordCompensationDuration(duration time.Duration)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordRun(status string)                           {}
func (nopMetricsRecorder) RecordRunDuration(string, time.Duration)           {}
func (nopMetricsRecorder) IncActiveRuns()                                    {}
func (nopMetricsRecorder) DecActiveRuns()                                    {}
func (nopMetricsRecorder) RecordCompensation(status string)                  {}
func (nopMetricsRecorder) RecordCompensationDuration(duration time.Duration) {}
