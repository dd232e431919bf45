package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AnalysisJob names a batch to analyze.
type AnalysisJob struct {
	TenantID string
	BatchID  string
}

// Runner performs the analysis drive of one batch.
type Runner interface {
	RunAnalysis(ctx context.Context, job AnalysisJob) error
}

// AnalysisDriver decides when and where the analysis drive runs.
type AnalysisDriver interface {
	// Dispatch starts the drive for job. Inline drivers return once the
	// batch is analyzed; queued drivers return once the job is accepted.
	Dispatch(ctx context.Context, job AnalysisJob) error
	Async() bool
}

// Dispatch modes.
const (
	ModeInline = "inline"
	ModeQueued = "queued"
)

// DispatchPolicy picks the driver for a submission size.
type DispatchPolicy struct {
	SyncThreshold int
}

// Choose returns ModeInline for n <= SyncThreshold, else ModeQueued.
func (p DispatchPolicy) Choose(n int) string {
	if n <= p.SyncThreshold {
		return ModeInline
	}
	return ModeQueued
}

// InlineDriver runs the drive inside the caller's request. The drive is
// detached from request cancellation so a dropped client cannot leave a
// half-analyzed batch.
type InlineDriver struct {
	runner Runner
}

// NewInlineDriver creates an inline driver.
func NewInlineDriver(r Runner) *InlineDriver {
	return &InlineDriver{runner: r}
}

func (d *InlineDriver) Dispatch(ctx context.Context, job AnalysisJob) error {
	return d.runner.RunAnalysis(context.WithoutCancel(ctx), job)
}

func (d *InlineDriver) Async() bool { return false }

// QueueObserver receives queue depth changes.
type QueueObserver interface {
	SetQueueDepth(n int)
}

// QueuedDriver hands batches to a bounded pool of background workers.
type QueuedDriver struct {
	runner   Runner
	queue    chan AnalysisJob
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	observer QueueObserver
	logger   *slog.Logger
}

// NewQueuedDriver starts workers goroutines reading from a queue of queueSize.
func NewQueuedDriver(r Runner, workers, queueSize int, observer QueueObserver, logger *slog.Logger) *QueuedDriver {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &QueuedDriver{
		runner:   r,
		queue:    make(chan AnalysisJob, queueSize),
		stop:     make(chan struct{}),
		observer: observer,
		logger:   logger,
	}
	for i := range workers {
		d.wg.Add(1)
		go d.work(i)
	}
	return d
}

func (d *QueuedDriver) Async() bool { return true }

// Dispatch enqueues job without blocking.
func (d *QueuedDriver) Dispatch(_ context.Context, job AnalysisJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrShuttingDown
	}
	select {
	case d.queue <- job:
		d.reportDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns the number of batches waiting for a worker.
func (d *QueuedDriver) Depth() int {
	return len(d.queue)
}

func (d *QueuedDriver) reportDepth() {
	if d.observer != nil {
		d.observer.SetQueueDepth(len(d.queue))
	}
}

func (d *QueuedDriver) work(id int) {
	defer d.wg.Done()
	for job := range d.queue {
		d.reportDepth()
		select {
		case <-d.stop:
			// left pending; resumed on the next start
			continue
		default:
		}
		d.run(id, job)
	}
}

func (d *QueuedDriver) run(worker int, job AnalysisJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("analysis worker panicked", "worker", worker, "batch_id", job.BatchID, "panic", r)
		}
	}()
	if err := d.runner.RunAnalysis(context.Background(), job); err != nil {
		d.logger.Error("queued analysis failed", "worker", worker, "batch_id", job.BatchID, "error", err)
	}
}

// Close stops accepting work and waits for queued batches to finish. When
// ctx ends first, batches not yet started are abandoned and ctx.Err() is
// returned; the batch running on each worker still completes.
func (d *QueuedDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.stop)
		return fmt.Errorf("close analysis queue: %w", ctx.Err())
	}
}
