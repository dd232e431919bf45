package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	m.RecordBatchSubmitted("inline")
	m.RecordBatchSubmitted("queued")
	m.RecordBatchSubmitted("queued")
	m.RecordBatchFinished("completed")
	m.RecordItemAnalyzed("analyzed", 3*time.Second)
	m.RecordItemAnalyzed("error", time.Second)
	m.RecordItemRegistered("new_building")
	m.SetQueueDepth(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchesSubmittedTotal.WithLabelValues("inline")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.batchesSubmittedTotal.WithLabelValues("queued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchesFinishedTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.itemsAnalyzedTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.itemsRegisteredTotal.WithLabelValues("new_building")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.queueDepthGauge))
	assert.Equal(t, 1, testutil.CollectAndCount(m.analysisDuration))
}

func TestPipelineMetricsDoubleRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	_, err = NewPipelineMetrics(registry)
	assert.Error(t, err)
}

func TestNilPipelineMetricsIsNoop(t *testing.T) {
	var m *PipelineMetrics
	m.RecordBatchSubmitted("queued")
	m.RecordBatchFinished("failed")
	m.RecordItemAnalyzed("analyzed", time.Second)
	m.RecordItemRegistered("error")
	m.SetQueueDepth(1)
}
