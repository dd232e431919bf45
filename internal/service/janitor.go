package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// ResumeStalled re-queues pending or analyzing batches that have not been
// updated for StallAfter, typically left behind by a restart. Each batch is
// claimed in the store first, so with several instances only one resumes it.
// It returns the number of batches queued.
func (s *ImportService) ResumeStalled(ctx context.Context) (int, error) {
	batches, err := s.store.ListBatchesByStatus(ctx, models.BatchPending, models.BatchAnalyzing)
	if err != nil {
		return 0, fmt.Errorf("list stalled batches: %w", err)
	}

	cutoff := s.now().Add(-s.opts.StallAfter)
	queued := 0
	for _, b := range batches {
		if !b.UpdatedAt.Before(cutoff) {
			s.logger.Debug("batch still active", "batch_id", b.ID, "updated_at", b.UpdatedAt)
			continue
		}
		claimed, err := s.store.ClaimStalledBatch(ctx, b.ID, cutoff, s.now())
		if err != nil {
			s.logger.Warn("stalled batch not claimed", "batch_id", b.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		started, err := s.dispatch(ctx, s.queued, AnalysisJob{TenantID: b.TenantID, BatchID: b.ID}, b.TotalFiles)
		if err != nil {
			// the next sweep picks it up again once the claim goes stale
			s.logger.Warn("stalled batch not requeued", "batch_id", b.ID, "error", err)
			break
		}
		if !started {
			continue
		}
		queued++
		s.logger.Info("stalled batch requeued", "batch_id", b.ID, "status", b.Status)
	}
	return queued, nil
}

// Janitor periodically requeues stalled batches.
type Janitor struct {
	cron   *cron.Cron
	svc    *ImportService
	logger *slog.Logger
}

// NewJanitor schedules ResumeStalled on a standard cron spec or descriptor
// such as "@every 5m".
func NewJanitor(svc *ImportService, schedule string, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	j := &Janitor{cron: cron.New(), svc: svc, logger: logger}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	return j, nil
}

// Sweep runs one pass.
func (j *Janitor) Sweep() {
	n, err := j.svc.ResumeStalled(context.Background())
	if err != nil {
		j.logger.Error("janitor sweep failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("janitor requeued batches", "count", n)
	}
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
