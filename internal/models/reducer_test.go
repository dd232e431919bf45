package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	tests := []struct {
		name  string
		event BatchEvent
		want  Counters
	}{
		{"analyzed", AnalysisSucceeded{}, Counters{TotalFiles: 3, AnalyzedCount: 1}},
		{"analysis failed", ItemAnalysisFailed{}, Counters{TotalFiles: 3, AnalyzedCount: 1, ErrorCount: 1}},
		{"registered new building", RegistrationSucceeded{NewBuilding: true}, Counters{TotalFiles: 3, BuildingsCreated: 1, RoomsCreated: 1}},
		{"registered existing building", RegistrationSucceeded{}, Counters{TotalFiles: 3, BuildingsMatched: 1, RoomsCreated: 1}},
		{"registration failed", ItemRegistrationFailed{}, Counters{TotalFiles: 3, ErrorCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reduce(Counters{TotalFiles: 3}, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReduceNeverExceedsTotal(t *testing.T) {
	c := Counters{TotalFiles: 1}
	c, err := Reduce(c, AnalysisSucceeded{})
	require.NoError(t, err)

	_, err = Reduce(c, ItemAnalysisFailed{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCounterOverflow))
}

func TestReduceIsMonotonic(t *testing.T) {
	events := []BatchEvent{
		AnalysisSucceeded{}, ItemAnalysisFailed{}, AnalysisSucceeded{},
		RegistrationSucceeded{NewBuilding: true}, ItemRegistrationFailed{}, RegistrationSucceeded{},
	}
	c := Counters{TotalFiles: 3}
	for _, e := range events {
		next, err := Reduce(c, e)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, next.AnalyzedCount, c.AnalyzedCount)
		assert.GreaterOrEqual(t, next.ErrorCount, c.ErrorCount)
		assert.GreaterOrEqual(t, next.RoomsCreated, c.RoomsCreated)
		assert.GreaterOrEqual(t, next.BuildingsCreated, c.BuildingsCreated)
		assert.GreaterOrEqual(t, next.BuildingsMatched, c.BuildingsMatched)
		c = next
	}
	assert.Equal(t, 3, c.AnalyzedCount)
	assert.Equal(t, 2, c.ErrorCount)
	assert.Equal(t, 2, c.RoomsCreated)
}
