package runtime

import (
	"sync/atomic"
	"time"
)

// DefaultMetricsCollector is a thread-safe implementation of MetricsCollector.
type DefaultMetricsCollector struct {
	runs             atomic.Int64
	processed        atomic.Int64
	errors           atomic.Int64
	totalProcessTime atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{}
}

// RecordRun records a finished run.
func (m *DefaultMetricsCollector) RecordRun(durationNs int64, items int) {
	m.runs.Add(1)
	m.processed.Add(int64(items))
	m.totalProcessTime.Add(durationNs)
}

// RecordError records a failed run.
func (m *DefaultMetricsCollector) RecordError() {
	m.errors.Add(1)
}

// GetMetrics returns the current metrics.
func (m *DefaultMetricsCollector) GetMetrics() Metrics {
	return Metrics{
		TotalRuns:           m.runs.Load(),
		TotalItemsProcessed: m.processed.Load(),
		TotalErrors:         m.errors.Load(),
		ProcessingTimeNs:    m.totalProcessTime.Load(),
	}
}

// Reset resets all metrics.
func (m *DefaultMetricsCollector) Reset() {
	m.runs.Store(0)
	m.processed.Store(0)
	m.errors.Store(0)
	m.totalProcessTime.Store(0)
}

// AverageRunTime returns the average duration of a run.
func (m *DefaultMetricsCollector) AverageRunTime() time.Duration {
	runs := m.runs.Load()
	if runs == 0 {
		return 0
	}
	return time.Duration(m.totalProcessTime.Load() / runs)
}

// ErrorRate returns the failed run rate as a percentage.
func (m *DefaultMetricsCollector) ErrorRate() float64 {
	runs := m.runs.Load()
	errors := m.errors.Load()
	total := runs + errors
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total) * 100
}

// Ensure DefaultMetricsCollector implements MetricsCollector
var _ MetricsCollector = (*DefaultMetricsCollector)(nil)

// NoOpMetricsCollector is a metrics collector that does nothing.
type NoOpMetricsCollector struct{}

func (m *NoOpMetricsCollector) RecordRun(durationNs int64, items int) {}
func (m *NoOpMetricsCollector) RecordError()                          {}
func (m *NoOpMetricsCollector) GetMetrics() Metrics                   { return Metrics{} }
func (m *NoOpMetricsCollector) Reset()                                {}

// Ensure NoOpMetricsCollector implements MetricsCollector
var _ MetricsCollector = (*NoOpMetricsCollector)(nil)
