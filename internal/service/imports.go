// Package service orchestrates floor-plan imports: submission, analysis
// dispatch, operator edits and transactional registration.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/floorplan-import/internal/analysis"
	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/matcher"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
	"github.com/raphaelgruber/floorplan-import/internal/vocabulary"
)

// Submission defaults.
const (
	DefaultMaxFiles      = 50
	DefaultMaxFileBytes  = 20 << 20
	DefaultSyncThreshold = 3
	DefaultListLimit     = 50
	DefaultStallAfter    = 15 * time.Minute

	pdfContentType = "application/pdf"
)

var pdfSignature = []byte("%PDF-")

// CandidateFinder proposes existing buildings for extracted building data.
type CandidateFinder interface {
	FindSimilar(ctx context.Context, tenantID string, q matcher.Query) ([]models.MatchCandidate, error)
}

// Options tune submission limits and the queued driver.
type Options struct {
	MaxFiles      int
	MaxFileBytes  int64
	SyncThreshold int
	Workers       int
	QueueSize     int
	// StallAfter is how long a pending or analyzing batch may go without an
	// update before ResumeStalled takes it over.
	StallAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = DefaultMaxFileBytes
	}
	if o.StallAfter <= 0 {
		o.StallAfter = DefaultStallAfter
	}
	if o.SyncThreshold < 0 {
		o.SyncThreshold = 0
	}
	return o
}

// Deps are the collaborators of ImportService. Thumbnails, Events, Metrics,
// Pipeline and Logger are optional.
type Deps struct {
	Store      store.Store
	Blobs      blob.Store
	Analyzer   analysis.Analyzer
	Matcher    CandidateFinder
	Catalog    *FacilityCatalog
	Vocabulary *vocabulary.Vocabulary
	Thumbnails ThumbnailRenderer
	Events     *EventHub
	Metrics    *metrics.Collector
	Pipeline   *metrics.PipelineMetrics
	Logger     *slog.Logger
}

// ImportService is the import orchestrator.
type ImportService struct {
	store     store.Store
	blobs     blob.Store
	analyzer  analysis.Analyzer
	matcher   CandidateFinder
	catalog   *FacilityCatalog
	committer *Committer
	events    *EventHub
	jobs      *JobManager
	metrics   *metrics.Collector
	pipeline  *metrics.PipelineMetrics
	logger    *slog.Logger
	opts      Options
	policy    DispatchPolicy
	inline    *InlineDriver
	queued    *QueuedDriver

	now   func() time.Time
	newID func() string

	activeMu sync.Mutex
	active   map[string]struct{}
}

// NewImportService wires the orchestrator and starts the queued workers.
// Call Close to stop them.
func NewImportService(deps Deps, opts Options) *ImportService {
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := deps.Events
	if events == nil {
		events = NewEventHub()
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = NewFacilityCatalog(deps.Store, DefaultCatalogTTL)
	}

	s := &ImportService{
		store:    deps.Store,
		blobs:    deps.Blobs,
		analyzer: deps.Analyzer,
		matcher:  deps.Matcher,
		catalog:  catalog,
		events:   events,
		jobs:     NewJobManager(),
		metrics:  deps.Metrics,
		pipeline: deps.Pipeline,
		logger:   logger,
		opts:     opts,
		policy:   DispatchPolicy{SyncThreshold: opts.SyncThreshold},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		active:   make(map[string]struct{}),
	}
	s.committer = &Committer{
		vocab:      deps.Vocabulary,
		catalog:    catalog,
		blobs:      deps.Blobs,
		thumbnails: deps.Thumbnails,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        func() time.Time { return s.now() },
		newID:      func() string { return s.newID() },
	}
	s.inline = NewInlineDriver(s)
	var observer QueueObserver
	if deps.Pipeline != nil {
		observer = deps.Pipeline
	}
	s.queued = NewQueuedDriver(s, opts.Workers, opts.QueueSize, observer, logger)
	return s
}

// Close stops the queued driver, waiting for running batches until ctx ends.
func (s *ImportService) Close(ctx context.Context) error {
	return s.queued.Close(ctx)
}

// Events returns the hub batch events are published on.
func (s *ImportService) Events() *EventHub {
	return s.events
}

// Jobs lists the tenant's analysis runs known to this process.
func (s *ImportService) Jobs(tenantID string) []JobInfo {
	return s.jobs.ListJobs(tenantID)
}

// Document is one uploaded file.
type Document struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SubmitRequest is a batch submission.
type SubmitRequest struct {
	TenantID  string
	UserID    string
	Documents []Document
}

// SubmitResult reports the created batch. In sync mode Batch carries the
// final analysis counters; in async mode it is the just-created batch.
type SubmitResult struct {
	BatchID    string              `json:"batch_id"`
	TotalFiles int                 `json:"total_files"`
	IsAsync    bool                `json:"is_async"`
	Message    string              `json:"message"`
	Batch      *models.ImportBatch `json:"batch"`
}

// Submit validates the documents, creates one batch with one item per
// document, stores the documents and starts analysis.
func (s *ImportService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	n := len(req.Documents)
	batch := models.NewBatch(s.newID(), req.TenantID, req.UserID, n, now)
	items := make([]*models.ImportItem, n)
	stored := make([]string, 0, n)
	for i, doc := range req.Documents {
		item := models.NewItem(s.newID(), batch.ID, i, doc.Filename, pdfContentType, int64(len(doc.Content)), now)
		key := blob.DocumentKey(req.TenantID, batch.ID, item.ID)
		if err := s.blobs.Put(ctx, key, doc.Content); err != nil {
			// the item fails at the upload stage during analysis
			s.logger.Warn("failed to store document", "batch_id", batch.ID, "filename", doc.Filename, "error", err)
		} else {
			item.DocumentRef = key
			stored = append(stored, key)
		}
		items[i] = item
	}
	batch.AppendLog(models.LogInfo, fmt.Sprintf("batch created with %d documents", n), now)

	if err := s.store.CreateBatch(ctx, batch, items); err != nil {
		for _, key := range stored {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("failed to remove orphaned document", "key", key, "error", delErr)
			}
		}
		return nil, fmt.Errorf("create batch: %w", err)
	}

	mode := s.policy.Choose(n)
	s.logger.Info("batch submitted", "batch_id", batch.ID, "tenant_id", req.TenantID, "files", n, "mode", mode)
	s.events.Publish(StatusEvent(batch, "batch created"))
	s.pipeline.RecordBatchSubmitted(mode)

	job := AnalysisJob{TenantID: req.TenantID, BatchID: batch.ID}
	if mode == ModeInline {
		if _, err := s.dispatch(ctx, s.inline, job, n); err != nil {
			return nil, fmt.Errorf("analyze batch %s: %w", batch.ID, err)
		}
		final, err := s.store.GetBatch(ctx, req.TenantID, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("reload batch: %w", err)
		}
		return &SubmitResult{
			BatchID:    batch.ID,
			TotalFiles: n,
			IsAsync:    false,
			Message:    fmt.Sprintf("analyzed %d of %d documents, %d failed", final.AnalyzedCount-final.ErrorCount, n, final.ErrorCount),
			Batch:      final,
		}, nil
	}

	if _, err := s.dispatch(ctx, s.queued, job, n); err != nil {
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrShuttingDown) {
			s.failBatch(context.WithoutCancel(ctx), req.TenantID, batch.ID, err.Error())
		}
		return nil, err
	}
	return &SubmitResult{
		BatchID:    batch.ID,
		TotalFiles: n,
		IsAsync:    true,
		Message:    fmt.Sprintf("%d documents queued for analysis", n),
		Batch:      batch,
	}, nil
}

func (s *ImportService) validate(req SubmitRequest) error {
	var problems []string
	if req.TenantID == "" {
		problems = append(problems, "tenant is required")
	}
	n := len(req.Documents)
	switch {
	case n == 0:
		problems = append(problems, "at least one document is required")
	case n > s.opts.MaxFiles:
		problems = append(problems, fmt.Sprintf("%d documents exceed the limit of %d", n, s.opts.MaxFiles))
	}
	for i, doc := range req.Documents {
		name := doc.Filename
		if name == "" {
			name = fmt.Sprintf("document %d", i+1)
		}
		switch {
		case !isPDFType(doc.ContentType):
			problems = append(problems, fmt.Sprintf("%s: content type %q is not %s", name, doc.ContentType, pdfContentType))
		case len(doc.Content) == 0:
			problems = append(problems, name+": file is empty")
		case int64(len(doc.Content)) > s.opts.MaxFileBytes:
			problems = append(problems, fmt.Sprintf("%s: %d bytes exceed the limit of %d", name, len(doc.Content), s.opts.MaxFileBytes))
		case !bytes.HasPrefix(doc.Content, pdfSignature):
			problems = append(problems, name+": not a PDF file")
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func isPDFType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == pdfContentType
}

// dispatch claims the batch and hands it to driver. A batch already being
// analyzed by this process is skipped and reported as not dispatched.
func (s *ImportService) dispatch(ctx context.Context, driver AnalysisDriver, job AnalysisJob, total int) (bool, error) {
	if !s.claim(job.BatchID) {
		return false, nil
	}
	mode := ModeInline
	if driver.Async() {
		mode = ModeQueued
	}
	s.jobs.Track(job.TenantID, job.BatchID, mode, total)
	if err := driver.Dispatch(ctx, job); err != nil {
		s.release(job.BatchID)
		s.jobs.Fail(job.BatchID, err)
		return false, err
	}
	return true, nil
}

func (s *ImportService) claim(batchID string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, busy := s.active[batchID]; busy {
		return false
	}
	s.active[batchID] = struct{}{}
	return true
}

func (s *ImportService) release(batchID string) {
	s.activeMu.Lock()
	delete(s.active, batchID)
	s.activeMu.Unlock()
}

// BatchDetail is a batch with its items in display order.
type BatchDetail struct {
	Batch *models.ImportBatch  `json:"batch"`
	Items []*models.ImportItem `json:"items"`
}

// GetBatch returns a tenant's batch and its items.
func (s *ImportService) GetBatch(ctx context.Context, tenantID, batchID string) (*BatchDetail, error) {
	batch, err := s.store.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return &BatchDetail{Batch: batch, Items: items}, nil
}

// ListBatches returns the tenant's batches, newest first.
func (s *ImportService) ListBatches(ctx context.Context, tenantID string, limit int) ([]*models.ImportBatch, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.ListBatches(ctx, tenantID, limit)
}

// ItemUpdate is an operator edit of an analyzed item.
type ItemUpdate struct {
	// EditedData is merged over the existing edits.
	EditedData models.ExtractedData
	// SelectedBuildingID attaches the item to an existing building.
	SelectedBuildingID *string
	// CreateNew clears the selection so registration creates a building.
	CreateNew bool
}

// UpdateItem applies an operator edit. Only analyzed items of a confirming
// batch accept edits.
func (s *ImportService) UpdateItem(ctx context.Context, tenantID, batchID, itemID string, upd ItemUpdate) (*models.ImportItem, error) {
	if upd.CreateNew && upd.SelectedBuildingID != nil {
		return nil, &ValidationError{Problems: []string{"select a building or create a new one, not both"}}
	}

	batch, err := s.store.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetItem(ctx, batchID, itemID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchConfirming || item.Status() != models.ItemAnalyzed {
		return nil, fmt.Errorf("%w: item %s is %s in a %s batch", ErrItemNotEditable, itemID, item.Status(), batch.Status)
	}

	now := s.now()
	if upd.SelectedBuildingID != nil {
		if _, err := s.store.FindBuilding(ctx, tenantID, *upd.SelectedBuildingID); err != nil {
			return nil, fmt.Errorf("select building: %w", err)
		}
		if err := item.SelectBuilding(upd.SelectedBuildingID, now); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrItemNotEditable, err)
		}
	}
	if upd.CreateNew {
		if err := item.SelectBuilding(nil, now); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrItemNotEditable, err)
		}
	}
	if err := item.Edit(upd.EditedData, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrItemNotEditable, err)
	}

	if err := s.store.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}
	s.events.Publish(itemEvent(batch, item, "item edited"))
	return item, nil
}

// Subscribe streams events of a tenant's batch until cancel is called.
func (s *ImportService) Subscribe(ctx context.Context, tenantID, batchID string) (<-chan Event, func(), error) {
	if _, err := s.store.GetBatch(ctx, tenantID, batchID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.events.Subscribe(batchID)
	return ch, cancel, nil
}
