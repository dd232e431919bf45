package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type runnerFunc func(ctx context.Context, job AnalysisJob) error

func (f runnerFunc) RunAnalysis(ctx context.Context, job AnalysisJob) error {
	return f(ctx, job)
}

type depthRecorder struct {
	mu     sync.Mutex
	depths []int
}

func (r *depthRecorder) SetQueueDepth(n int) {
	r.mu.Lock()
	r.depths = append(r.depths, n)
	r.mu.Unlock()
}

func (r *depthRecorder) max() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := 0
	for _, d := range r.depths {
		m = max(m, d)
	}
	return m
}

func TestDispatchPolicy(t *testing.T) {
	tests := []struct {
		threshold int
		n         int
		want      string
	}{
		{threshold: 3, n: 1, want: ModeInline},
		{threshold: 3, n: 3, want: ModeInline},
		{threshold: 3, n: 4, want: ModeQueued},
		{threshold: 0, n: 1, want: ModeQueued},
		{threshold: 50, n: 50, want: ModeInline},
	}
	for _, tt := range tests {
		got := DispatchPolicy{SyncThreshold: tt.threshold}.Choose(tt.n)
		assert.Equal(t, tt.want, got, "threshold %d, %d files", tt.threshold, tt.n)
	}
}

func TestInlineDriverIgnoresCallerCancellation(t *testing.T) {
	var sawErr error
	d := NewInlineDriver(runnerFunc(func(ctx context.Context, job AnalysisJob) error {
		sawErr = ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Dispatch(ctx, AnalysisJob{BatchID: "b1"}))
	assert.NoError(t, sawErr)
	assert.False(t, d.Async())
}

func TestQueuedDriverRunsJobs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var ran sync.Map
	obs := &depthRecorder{}
	d := NewQueuedDriver(runnerFunc(func(ctx context.Context, job AnalysisJob) error {
		ran.Store(job.BatchID, true)
		return nil
	}), 2, 8, obs, nil)
	assert.True(t, d.Async())

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: id}))
	}
	require.NoError(t, d.Close(context.Background()))

	for _, id := range []string{"b1", "b2", "b3"} {
		_, ok := ran.Load(id)
		assert.True(t, ok, "job %s did not run", id)
	}
	assert.Equal(t, 0, d.Depth())
	assert.GreaterOrEqual(t, obs.max(), 1)
}

func TestQueuedDriverQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	release := make(chan struct{})
	d := NewQueuedDriver(runnerFunc(func(ctx context.Context, job AnalysisJob) error {
		if job.BatchID == "b1" {
			close(started)
		}
		<-release
		return nil
	}), 1, 1, nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b1"}))
	<-started
	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b2"}))
	assert.ErrorIs(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b3"}), ErrQueueFull)
	assert.Equal(t, 1, d.Depth())

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b4"}), ErrShuttingDown)
	assert.NoError(t, d.Close(context.Background()), "close is idempotent")
}

func TestQueuedDriverCloseDeadlineAbandonsQueuedJobs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	d := NewQueuedDriver(runnerFunc(func(ctx context.Context, job AnalysisJob) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}), 1, 4, nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b1"}))
	<-started
	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b2"}))
	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "b3"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool { return d.Depth() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, runs.Load(), "queued jobs are left for the next start")
}

func TestQueuedDriverRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var runs atomic.Int32
	d := NewQueuedDriver(runnerFunc(func(ctx context.Context, job AnalysisJob) error {
		runs.Add(1)
		if job.BatchID == "bad" {
			panic("worker exploded")
		}
		return nil
	}), 1, 4, nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "bad"}))
	require.NoError(t, d.Dispatch(context.Background(), AnalysisJob{BatchID: "good"}))
	require.NoError(t, d.Close(context.Background()))
	assert.EqualValues(t, 2, runs.Load())
}
