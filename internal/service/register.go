package service

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

// ItemError describes one item that could not be registered.
type ItemError struct {
	ItemID   string `json:"item_id"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// RegistrationResult summarizes a register pass.
type RegistrationResult struct {
	BatchID      string      `json:"batch_id"`
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	Errors       []ItemError `json:"errors"`
}

// Register commits every analyzed item of a confirming batch in one unit of
// work, each item inside its own savepoint. Item failures are reported in the
// result; only a fault outside the per-item scope fails the batch and is
// returned.
func (s *ImportService) Register(ctx context.Context, tenantID, batchID string) (*RegistrationResult, error) {
	batch, err := s.store.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchConfirming {
		return nil, fmt.Errorf("%w: batch %s is %s", ErrBatchNotConfirmable, batchID, batch.Status)
	}

	items, err := s.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	analyzed := make([]*models.ImportItem, 0, len(items))
	for _, item := range items {
		if item.Status() == models.ItemAnalyzed {
			analyzed = append(analyzed, item)
		}
	}
	if len(analyzed) == 0 {
		return nil, fmt.Errorf("%w: batch %s", ErrNothingToRegister, batchID)
	}
	if err := s.catalog.Prewarm(ctx); err != nil {
		return nil, err
	}

	moved, err := s.store.TransitionBatch(ctx, batchID, models.BatchConfirming, models.BatchProcessing)
	if err != nil {
		return nil, fmt.Errorf("start registration: %w", err)
	}
	if !moved {
		return nil, fmt.Errorf("%w: batch %s was registered concurrently", ErrBatchNotConfirmable, batchID)
	}
	if err := batch.BeginRegistration(s.now()); err != nil {
		return nil, err
	}
	s.events.Publish(StatusEvent(batch, "registration started"))

	start := time.Now()
	result := &RegistrationResult{BatchID: batchID, Errors: []ItemError{}}
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		for _, item := range analyzed {
			if err := s.registerItem(ctx, tx, batch, item, result); err != nil {
				return err
			}
		}
		if err := batch.Complete(s.now()); err != nil {
			return err
		}
		return tx.SaveBatch(ctx, batch)
	})
	s.metrics.RecordTiming(metrics.OpRegister, time.Since(start))

	if err != nil {
		s.failBatch(context.WithoutCancel(ctx), tenantID, batchID, "registration failed: "+err.Error())
		return nil, fmt.Errorf("register batch %s: %w", batchID, err)
	}

	s.logger.Info("batch registered", "batch_id", batchID,
		"success", result.SuccessCount, "failed", result.FailedCount,
		"buildings_created", batch.BuildingsCreated, "buildings_matched", batch.BuildingsMatched)
	s.events.Publish(StatusEvent(batch, "registration completed"))
	s.pipeline.RecordBatchFinished(string(models.BatchCompleted))
	return result, nil
}

// registerItem commits one item in a savepoint. A failed commit is written
// onto the item and into result; only errors recording that failure escape.
func (s *ImportService) registerItem(ctx context.Context, tx store.Tx, batch *models.ImportBatch, item *models.ImportItem, result *RegistrationResult) error {
	work := item.Clone()
	var outcome *Outcome
	commitErr := tx.Savepoint(ctx, func(sp store.Tx) error {
		o, err := s.committer.Commit(ctx, sp, batch, work)
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})

	if commitErr == nil {
		*item = *work
		if err := batch.Apply(models.RegistrationSucceeded{NewBuilding: outcome.NewBuilding}); err != nil {
			return err
		}
		result.SuccessCount++
		label := "matched_building"
		if outcome.NewBuilding {
			label = "new_building"
		}
		s.pipeline.RecordItemRegistered(label)
		s.events.Publish(itemEvent(batch, item, lastMessage(batch)))
		return nil
	}

	msg := truncateMessage(commitErr.Error())
	if err := item.FailRegistration(msg, s.now()); err != nil {
		return err
	}
	if err := tx.SaveItem(ctx, item); err != nil {
		return fmt.Errorf("record failure of item %s: %w", item.ID, err)
	}
	s.recordFailure(batch, item, models.ItemRegistrationFailed{}, "registration", msg)
	result.FailedCount++
	result.Errors = append(result.Errors, ItemError{ItemID: item.ID, Filename: item.Filename, Message: msg})
	s.pipeline.RecordItemRegistered("error")
	s.events.Publish(itemEvent(batch, item, msg))
	return nil
}
