// ABOUTME: Prometheus metrics for the BeeDB engine
// ABOUTME: Counts buffer, disk, transaction and index activity

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics
// is valid everywhere and records nothing.
type Metrics struct {
	// Buffer pool metrics
	BufferPinsTotal      prometheus.Counter
	BufferMissesTotal    prometheus.Counter
	BufferEvictionsTotal prometheus.Counter
	BufferFlushesTotal   prometheus.Counter

	// Disk metrics
	DiskReadsTotal      prometheus.Counter
	DiskWritesTotal     prometheus.Counter
	PagesAllocatedTotal prometheus.Counter

	// Transaction metrics
	TransactionsTotal       *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec

	// Index metrics
	IndexPutsTotal prometheus.Counter
	IndexHeight    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{}

	m.BufferPinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_buffer_pins_total",
			Help: "Total number of page pins",
		},
	)

	m.BufferMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_buffer_misses_total",
			Help: "Total number of pins that had to load the page from disk",
		},
	)

	m.BufferEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_buffer_evictions_total",
			Help: "Total number of frames evicted from the buffer pool",
		},
	)

	m.BufferFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_buffer_flushes_total",
			Help: "Total number of dirty frames written back to disk",
		},
	)

	m.DiskReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_disk_reads_total",
			Help: "Total number of page reads from disk",
		},
	)

	m.DiskWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_disk_writes_total",
			Help: "Total number of page writes to disk",
		},
	)

	m.PagesAllocatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_pages_allocated_total",
			Help: "Total number of pages allocated in the page file",
		},
	)

	m.TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beedb_transactions_total",
			Help: "Total number of finished transactions by outcome",
		},
		[]string{"status"},
	)

	m.ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beedb_validation_failures_total",
			Help: "Total number of commit validation failures by check",
		},
		[]string{"check"},
	)

	m.IndexPutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beedb_index_puts_total",
			Help: "Total number of B+Tree insertions",
		},
	)

	m.IndexHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beedb_index_height",
			Help: "Height of the B+Tree that received the most recent insertion",
		},
	)

	return m
}

// RecordPin records a pin, counting a miss when the page was loaded
func (m *Metrics) RecordPin(miss bool) {
	if m == nil {
		return
	}
	m.BufferPinsTotal.Inc()
	if miss {
		m.BufferMissesTotal.Inc()
	}
}

// RecordEviction records a successful frame eviction
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.BufferEvictionsTotal.Inc()
}

// RecordFlush records a dirty frame write-back
func (m *Metrics) RecordFlush() {
	if m == nil {
		return
	}
	m.BufferFlushesTotal.Inc()
}

// RecordDiskRead records a page read
func (m *Metrics) RecordDiskRead() {
	if m == nil {
		return
	}
	m.DiskReadsTotal.Inc()
}

// RecordDiskWrite records a page write
func (m *Metrics) RecordDiskWrite() {
	if m == nil {
		return
	}
	m.DiskWritesTotal.Inc()
}

// RecordAllocation records a new page allocation
func (m *Metrics) RecordAllocation() {
	if m == nil {
		return
	}
	m.PagesAllocatedTotal.Inc()
}

// RecordTransaction records a finished transaction
func (m *Metrics) RecordTransaction(status string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(status).Inc()
}

// RecordValidationFailure records a failed commit validation check
func (m *Metrics) RecordValidationFailure(check string) {
	if m == nil {
		return
	}
	m.ValidationFailuresTotal.WithLabelValues(check).Inc()
}

// RecordIndexPut records a B+Tree insertion and its resulting height
func (m *Metrics) RecordIndexPut(height int) {
	if m == nil {
		return
	}
	m.IndexPutsTotal.Inc()
	m.IndexHeight.Set(float64(height))
}
