// Package metrics provides in-memory runtime statistics and Prometheus
// instruments for the import pipeline.
package metrics

import (
	"sync"
	"time"
)

// Pipeline stages tracked by the collector.
const (
	OpAnalyze     = "analyze"
	OpMatch       = "match"
	OpRegister    = "register"
	OpThumbnail   = "thumbnail"
	OpTextExtract = "text_extract"
)

// OperationSnapshot is the computed view of one stage.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token usage; set only for analyzer calls that reported any.
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot is the server's statistics at a point in time. Stages that saw
// no activity are nil.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Analyze       *OperationSnapshot `json:"analyze,omitempty"`
	Match         *OperationSnapshot `json:"match,omitempty"`
	Register      *OperationSnapshot `json:"register,omitempty"`
	Thumbnail     *OperationSnapshot `json:"thumbnail,omitempty"`
	TextExtract   *OperationSnapshot `json:"text_extract,omitempty"`
}

// span tracks count, sum and range of a series of int64 samples.
type span struct {
	n        int64
	sum      int64
	min, max int64
}

func (s *span) add(v int64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
}

func (s span) avg() float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.n)
}

type stage struct {
	errors int64
	time   span // nanoseconds
	input  span
	output span
}

func (st *stage) snapshot() *OperationSnapshot {
	if st == nil || (st.time.n == 0 && st.errors == 0) {
		return nil
	}
	snap := &OperationSnapshot{Count: st.time.n, Errors: st.errors}
	if st.time.n > 0 {
		snap.TotalTimeMs = time.Duration(st.time.sum).Milliseconds()
		snap.AvgTimeMs = float64(snap.TotalTimeMs) / float64(st.time.n)
		snap.MinTimeMs = time.Duration(st.time.min).Milliseconds()
		snap.MaxTimeMs = time.Duration(st.time.max).Milliseconds()
	}
	if st.input.sum > 0 || st.output.sum > 0 {
		in, out := st.input, st.output
		avgIn, avgOut := in.avg(), out.avg()
		snap.TotalInputTokens, snap.TotalOutputTokens = &in.sum, &out.sum
		snap.AvgInputTokens, snap.AvgOutputTokens = &avgIn, &avgOut
		snap.MinInputTokens, snap.MaxInputTokens = &in.min, &in.max
		snap.MinOutputTokens, snap.MaxOutputTokens = &out.min, &out.max
	}
	return snap
}

// Collector aggregates in-memory runtime statistics per pipeline stage.
// All methods are safe for concurrent use and on a nil receiver.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	stages  map[string]*stage
}

// NewCollector creates a collector whose uptime starts now.
func NewCollector() *Collector {
	return &Collector{started: time.Now(), stages: make(map[string]*stage)}
}

// update runs fn on op's stage under the lock.
func (c *Collector) update(op string, fn func(*stage)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stages[op]
	if !ok {
		st = &stage{}
		c.stages[op] = st
	}
	fn(st)
}

// RecordTiming records one completed call of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.update(op, func(st *stage) { st.time.add(int64(d)) })
}

// RecordError counts a failed call of op. Failed calls are timed separately
// through RecordTiming when their duration is meaningful.
func (c *Collector) RecordError(op string) {
	c.update(op, func(st *stage) { st.errors++ })
}

// RecordLLMUsage records timing and token usage for an analyzer call.
func (c *Collector) RecordLLMUsage(op string, d time.Duration, inputTokens, outputTokens int64) {
	c.update(op, func(st *stage) {
		st.time.add(int64(d))
		st.input.add(inputTokens)
		st.output.add(outputTokens)
	})
}

// Snapshot returns the current statistics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Analyze:       c.stages[OpAnalyze].snapshot(),
		Match:         c.stages[OpMatch].snapshot(),
		Register:      c.stages[OpRegister].snapshot(),
		Thumbnail:     c.stages[OpThumbnail].snapshot(),
		TextExtract:   c.stages[OpTextExtract].snapshot(),
	}
}
