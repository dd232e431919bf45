package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Histogram buckets for analyzer latency: 250ms to ~2m.
const (
	bucketStart  = 0.25
	bucketFactor = 2
	bucketCount  = 10
)

// PipelineMetrics contains Prometheus metrics for the import pipeline.
type PipelineMetrics struct {
	batchesSubmittedTotal *prometheus.CounterVec
	batchesFinishedTotal  *prometheus.CounterVec
	itemsAnalyzedTotal    *prometheus.CounterVec
	itemsRegisteredTotal  *prometheus.CounterVec
	analysisDuration      prometheus.Histogram
	queueDepthGauge       prometheus.Gauge

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.batchesSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorplan_batches_submitted_total",
			Help: "Total number of import batches accepted",
		},
		[]string{"mode"}, // mode: inline, queued
	)
	m.batchesFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorplan_batches_finished_total",
			Help: "Total number of import batches that reached a terminal state",
		},
		[]string{"status"}, // status: completed, failed
	)
	m.itemsAnalyzedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorplan_items_analyzed_total",
			Help: "Total number of documents run through analysis",
		},
		[]string{"outcome"}, // outcome: analyzed, error
	)
	m.itemsRegisteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorplan_items_registered_total",
			Help: "Total number of items processed by registration",
		},
		[]string{"outcome"}, // outcome: new_building, matched_building, error
	)
	m.analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "floorplan_analysis_duration_seconds",
			Help:    "Time taken to analyze one document",
			Buckets: prometheus.ExponentialBuckets(bucketStart, bucketFactor, bucketCount),
		},
	)
	m.queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "floorplan_analysis_queue_depth",
			Help: "Batches waiting for a queued analysis worker",
		},
	)

	m.collectors = []prometheus.Collector{
		m.batchesSubmittedTotal,
		m.batchesFinishedTotal,
		m.itemsAnalyzedTotal,
		m.itemsRegisteredTotal,
		m.analysisDuration,
		m.queueDepthGauge,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordBatchSubmitted counts an accepted batch by dispatch mode, using the
// same inline/queued values the jobs listing reports.
func (m *PipelineMetrics) RecordBatchSubmitted(mode string) {
	if m == nil {
		return
	}
	m.batchesSubmittedTotal.WithLabelValues(mode).Inc()
}

// RecordBatchFinished counts a batch reaching completed or failed.
func (m *PipelineMetrics) RecordBatchFinished(status string) {
	if m == nil {
		return
	}
	m.batchesFinishedTotal.WithLabelValues(status).Inc()
}

// RecordItemAnalyzed counts one analysis outcome and its duration.
func (m *PipelineMetrics) RecordItemAnalyzed(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.itemsAnalyzedTotal.WithLabelValues(outcome).Inc()
	m.analysisDuration.Observe(duration.Seconds())
}

// RecordItemRegistered counts one registration outcome.
func (m *PipelineMetrics) RecordItemRegistered(outcome string) {
	if m == nil {
		return
	}
	m.itemsRegisteredTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the number of batches waiting for a worker.
func (m *PipelineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepthGauge.Set(float64(n))
}
