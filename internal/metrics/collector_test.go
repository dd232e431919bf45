package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpMatch, 10*time.Millisecond)
	c.RecordTiming(OpMatch, 30*time.Millisecond)
	c.RecordLLMUsage(OpAnalyze, 2*time.Second, 1200, 300)
	c.RecordLLMUsage(OpAnalyze, 4*time.Second, 800, 500)
	c.RecordError(OpThumbnail)

	snap := c.Snapshot()

	require.NotNil(t, snap.Match)
	assert.Equal(t, int64(2), snap.Match.Count)
	assert.Equal(t, int64(40), snap.Match.TotalTimeMs)
	assert.InDelta(t, 20.0, snap.Match.AvgTimeMs, 0.001)
	assert.Equal(t, int64(10), snap.Match.MinTimeMs)
	assert.Equal(t, int64(30), snap.Match.MaxTimeMs)
	assert.Nil(t, snap.Match.TotalInputTokens)

	require.NotNil(t, snap.Analyze)
	require.NotNil(t, snap.Analyze.TotalInputTokens)
	assert.Equal(t, int64(2000), *snap.Analyze.TotalInputTokens)
	assert.Equal(t, int64(800), *snap.Analyze.MinInputTokens)
	assert.Equal(t, int64(500), *snap.Analyze.MaxOutputTokens)
	assert.InDelta(t, 400.0, *snap.Analyze.AvgOutputTokens, 0.001)

	require.NotNil(t, snap.Thumbnail)
	assert.Equal(t, int64(0), snap.Thumbnail.Count)
	assert.Equal(t, int64(1), snap.Thumbnail.Errors)

	assert.Nil(t, snap.Register)
	assert.Nil(t, snap.TextExtract)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpMatch, time.Second)
	c.RecordError(OpMatch)
	c.RecordLLMUsage(OpAnalyze, time.Second, 1, 1)
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				c.RecordTiming(OpRegister, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), c.Snapshot().Register.Count)
}
