package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/raphaelgruber/floorplan-import/internal/analysis"
	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/matcher"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

const interruptedMessage = "analysis interrupted before completion"

// RunAnalysis is the analysis drive shared by both drivers. Per-item faults
// are recorded on the item; any other fault fails the batch and is returned.
func (s *ImportService) RunAnalysis(ctx context.Context, job AnalysisJob) (err error) {
	defer s.release(job.BatchID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("analysis drive panicked", "batch_id", job.BatchID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal panic: %v", r)
		}
		if err != nil {
			s.jobs.Fail(job.BatchID, err)
			s.failBatch(context.WithoutCancel(ctx), job.TenantID, job.BatchID, err.Error())
			return
		}
		s.jobs.Complete(job.BatchID)
	}()

	s.jobs.SetRunning(job.BatchID)
	return s.analyzeBatch(ctx, job)
}

func (s *ImportService) analyzeBatch(ctx context.Context, job AnalysisJob) error {
	batch, err := s.store.GetBatch(ctx, job.TenantID, job.BatchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	switch batch.Status {
	case models.BatchPending:
		if err := batch.BeginAnalysis(s.now()); err != nil {
			return err
		}
		if err := s.store.SaveBatch(ctx, batch); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		s.events.Publish(StatusEvent(batch, "analysis started"))
	case models.BatchAnalyzing:
		batch.AppendLog(models.LogWarn, "analysis resumed", s.now())
		s.logger.Info("resuming analysis", "batch_id", batch.ID)
	default:
		s.logger.Debug("batch needs no analysis", "batch_id", batch.ID, "status", batch.Status)
		return nil
	}

	items, err := s.store.ListItems(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	done := 0
	for _, item := range items {
		switch item.Status() {
		case models.ItemPending:
			s.analyzeItem(ctx, batch, item)
		case models.ItemAnalyzing:
			// a previous run died while this item was with the analyzer
			if err := item.FailAnalysis(interruptedMessage, s.now()); err != nil {
				return err
			}
			s.recordFailure(batch, item, models.ItemAnalysisFailed{}, "analysis", interruptedMessage)
		default:
			done++
			continue
		}

		if err := s.saveProgress(ctx, batch, item); err != nil {
			return err
		}
		done++
		s.jobs.UpdateProgress(batch.ID, done)
		s.events.Publish(itemEvent(batch, item, lastMessage(batch)))
	}

	if err := batch.FinishAnalysis(s.now()); err != nil {
		return err
	}
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	s.logger.Info("batch analyzed", "batch_id", batch.ID, "analyzed", batch.AnalyzedCount, "errors", batch.ErrorCount)
	s.events.Publish(StatusEvent(batch, "ready for confirmation"))
	return nil
}

// analyzeItem moves one pending item to analyzed or error. It never fails:
// every fault ends up on the item and siblings are analyzed regardless.
func (s *ImportService) analyzeItem(ctx context.Context, batch *models.ImportBatch, item *models.ImportItem) {
	content, msg := s.loadDocument(ctx, item)
	if msg != "" {
		if err := item.FailUpload(msg, s.now()); err == nil {
			s.recordFailure(batch, item, models.ItemAnalysisFailed{}, "upload", msg)
		}
		return
	}

	if err := item.BeginAnalysis(s.now()); err != nil {
		return
	}
	if err := s.store.SaveItem(ctx, item); err != nil {
		// the outcome is saved below; only the intermediate state is lost
		s.logger.Warn("failed to save analyzing state", "item_id", item.ID, "error", err)
	}

	start := time.Now()
	data, err := s.safeAnalyze(ctx, analysis.Document{
		Filename:    item.Filename,
		ContentType: item.ContentType,
		Content:     content,
	})
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, analysis.ErrFatalAPI) {
			s.logger.Error("analyzer rejected credentials or billing; check the provider account",
				"batch_id", batch.ID, "item_id", item.ID, "error", err)
		}
		msg := truncateMessage(err.Error())
		_ = item.FailAnalysis(msg, s.now())
		s.recordFailure(batch, item, models.ItemAnalysisFailed{}, "analysis", msg)
		s.pipeline.RecordItemAnalyzed("error", elapsed)
		return
	}

	candidates := s.findCandidates(ctx, batch.TenantID, item, data)
	if err := item.CompleteAnalysis(data, candidates, s.now()); err != nil {
		return
	}
	if err := batch.Apply(models.AnalysisSucceeded{}); err != nil {
		s.logger.Error("counter update rejected", "batch_id", batch.ID, "error", err)
	}
	batch.AppendLog(models.LogInfo, fmt.Sprintf("%s: analyzed, %d building candidates", item.Filename, len(candidates)), s.now())
	s.pipeline.RecordItemAnalyzed("analyzed", elapsed)
}

// loadDocument returns the stored bytes, or a failure message when the
// document is unusable.
func (s *ImportService) loadDocument(ctx context.Context, item *models.ImportItem) ([]byte, string) {
	if item.DocumentRef == "" {
		return nil, "document was not stored"
	}
	content, err := s.blobs.Get(ctx, item.DocumentRef)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return nil, "document missing from storage"
	case err != nil:
		return nil, truncateMessage("read document: " + err.Error())
	}
	return content, ""
}

// safeAnalyze converts analyzer panics into errors.
func (s *ImportService) safeAnalyze(ctx context.Context, doc analysis.Document) (data models.ExtractedData, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("analyzer panicked", "filename", doc.Filename, "panic", r)
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return s.analyzer.Analyze(ctx, doc)
}

func (s *ImportService) findCandidates(ctx context.Context, tenantID string, item *models.ImportItem, data models.ExtractedData) []models.MatchCandidate {
	start := time.Now()
	candidates, err := s.matcher.FindSimilar(ctx, tenantID, matcher.QueryFromExtracted(data))
	if err != nil {
		s.metrics.RecordError(metrics.OpMatch)
		s.logger.Warn("building match failed", "item_id", item.ID, "error", err)
		return []models.MatchCandidate{}
	}
	s.logger.Debug("building candidates", "item_id", item.ID, "count", len(candidates), "took", time.Since(start))
	return candidates
}

func (s *ImportService) recordFailure(batch *models.ImportBatch, item *models.ImportItem, event models.BatchEvent, stage, msg string) {
	if err := batch.Apply(event); err != nil {
		s.logger.Error("counter update rejected", "batch_id", batch.ID, "error", err)
	}
	batch.AppendLog(models.LogError, fmt.Sprintf("%s: %s failed: %s", item.Filename, stage, msg), s.now())
	s.logger.Warn("item failed", "batch_id", batch.ID, "item_id", item.ID, "stage", stage, "error", msg)
}

// saveProgress writes an item outcome and the batch counters together.
func (s *ImportService) saveProgress(ctx context.Context, batch *models.ImportBatch, item *models.ImportItem) error {
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		return tx.SaveBatch(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("save progress of item %s: %w", item.ID, err)
	}
	return nil
}

// failBatch moves a batch to failed with reason. It is used outside any
// unit of work so the failure survives a rollback.
func (s *ImportService) failBatch(ctx context.Context, tenantID, batchID, reason string) {
	batch, err := s.store.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		s.logger.Error("failed to load batch to fail it", "batch_id", batchID, "error", err)
		return
	}
	if err := batch.Fail(truncateMessage(reason), s.now()); err != nil {
		s.logger.Warn("batch cannot be failed", "batch_id", batchID, "status", batch.Status, "error", err)
		return
	}
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		s.logger.Error("failed to save failed batch", "batch_id", batchID, "error", err)
		return
	}
	s.logger.Error("batch failed", "batch_id", batchID, "reason", reason)
	s.events.Publish(StatusEvent(batch, reason))
	s.pipeline.RecordBatchFinished(string(models.BatchFailed))
}

func lastMessage(b *models.ImportBatch) string {
	if e, ok := b.LastLog(); ok {
		return e.Message
	}
	return ""
}
