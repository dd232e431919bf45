package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBatchLifecycle(t *testing.T) {
	b := NewBatch("b1", "tenant-a", "user-1", 2, t0)
	assert.Equal(t, BatchPending, b.Status)

	require.NoError(t, b.BeginAnalysis(t0))
	require.NotNil(t, b.StartedAt)
	require.NoError(t, b.Apply(AnalysisSucceeded{}))
	require.NoError(t, b.Apply(ItemAnalysisFailed{}))
	require.NoError(t, b.FinishAnalysis(t0))
	assert.Equal(t, BatchConfirming, b.Status)

	require.NoError(t, b.BeginRegistration(t0))
	require.NoError(t, b.Apply(RegistrationSucceeded{NewBuilding: true}))
	require.NoError(t, b.Complete(t0))

	assert.Equal(t, BatchCompleted, b.Status)
	assert.Equal(t, Counters{
		TotalFiles:       2,
		AnalyzedCount:    2,
		BuildingsCreated: 1,
		RoomsCreated:     1,
		ErrorCount:       1,
	}, b.Counters)
	require.NotNil(t, b.CompletedAt)

	last, ok := b.LastLog()
	require.True(t, ok)
	assert.Contains(t, last.Message, "1 rooms created")
}

func TestBatchTransitionsAreOneWay(t *testing.T) {
	tests := []struct {
		name string
		from BatchStatus
		to   BatchStatus
		ok   bool
	}{
		{"pending to analyzing", BatchPending, BatchAnalyzing, true},
		{"pending to confirming", BatchPending, BatchConfirming, false},
		{"analyzing to confirming", BatchAnalyzing, BatchConfirming, true},
		{"confirming to processing", BatchConfirming, BatchProcessing, true},
		{"confirming to failed", BatchConfirming, BatchFailed, false},
		{"processing to completed", BatchProcessing, BatchCompleted, true},
		{"processing to failed", BatchProcessing, BatchFailed, true},
		{"completed to processing", BatchCompleted, BatchProcessing, false},
		{"failed to pending", BatchFailed, BatchPending, false},
		{"processing back to confirming", BatchProcessing, BatchConfirming, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestBatchRejectsSecondRegistration(t *testing.T) {
	b := NewBatch("b1", "tenant-a", "user-1", 1, t0)
	b.Status = BatchCompleted

	err := b.BeginRegistration(t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, BatchCompleted, b.Status)
}

func TestBatchFailKeepsReason(t *testing.T) {
	b := NewBatch("b1", "tenant-a", "user-1", 1, t0)
	b.Status = BatchProcessing

	require.NoError(t, b.Fail("store unavailable", t0))
	assert.Equal(t, BatchFailed, b.Status)
	assert.Equal(t, "store unavailable", b.Failure)

	last, _ := b.LastLog()
	assert.Equal(t, LogError, last.Level)
}

func TestBatchLogIsAppendOnly(t *testing.T) {
	b := NewBatch("b1", "tenant-a", "user-1", 1, t0)
	b.AppendLog(LogInfo, "first", t0)
	b.AppendLog(LogWarn, "second", t0.Add(time.Second))

	require.Len(t, b.Log, 2)
	assert.Equal(t, "first", b.Log[0].Message)
	assert.Equal(t, "second", b.Log[1].Message)
	assert.Equal(t, t0.Add(time.Second), b.UpdatedAt)
}
