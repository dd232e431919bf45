package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/floorplan-import/internal/analysis"
	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: Options{MaxFiles: 2, MaxFileBytes: 64}})

	tests := []struct {
		name    string
		req     SubmitRequest
		problem string
	}{
		{
			name:    "missing tenant",
			req:     SubmitRequest{Documents: pdfDocs("a.pdf")},
			problem: "tenant is required",
		},
		{
			name:    "no documents",
			req:     SubmitRequest{TenantID: testTenant},
			problem: "at least one document is required",
		},
		{
			name:    "too many documents",
			req:     SubmitRequest{TenantID: testTenant, Documents: pdfDocs("a.pdf", "b.pdf", "c.pdf")},
			problem: "3 documents exceed the limit of 2",
		},
		{
			name: "wrong content type",
			req: SubmitRequest{TenantID: testTenant, Documents: []Document{
				{Filename: "plan.png", ContentType: "image/png", Content: []byte("%PDF-1.4")},
			}},
			problem: `plan.png: content type "image/png" is not application/pdf`,
		},
		{
			name: "empty file",
			req: SubmitRequest{TenantID: testTenant, Documents: []Document{
				{Filename: "empty.pdf", ContentType: "application/pdf"},
			}},
			problem: "empty.pdf: file is empty",
		},
		{
			name: "too large",
			req: SubmitRequest{TenantID: testTenant, Documents: []Document{
				{Filename: "big.pdf", ContentType: "application/pdf", Content: append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 100)...)},
			}},
			problem: "big.pdf: 105 bytes exceed the limit of 64",
		},
		{
			name: "not a pdf",
			req: SubmitRequest{TenantID: testTenant, Documents: []Document{
				{Filename: "fake.pdf", ContentType: "application/pdf", Content: []byte("hello")},
			}},
			problem: "fake.pdf: not a PDF file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.svc.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidSubmission)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Problems, tt.problem)
		})
	}

	batches, err := h.store.ListBatches(context.Background(), testTenant, 0)
	require.NoError(t, err)
	assert.Empty(t, batches, "rejected submissions must not create batches")
	h.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestSubmitValidationCollectsAllProblems(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), SubmitRequest{
		TenantID: testTenant,
		Documents: []Document{
			{Filename: "a.pdf", ContentType: "text/plain", Content: []byte("%PDF-")},
			{Filename: "b.pdf", ContentType: "application/pdf"},
		},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2)
	assert.Contains(t, err.Error(), "invalid submission: ")
}

func TestSubmitAcceptsContentTypeParameters(t *testing.T) {
	h := newHarness(t)
	h.expectPlans("a.pdf")

	doc := pdfDoc("a.pdf")
	doc.ContentType = "application/pdf; name=a.pdf"
	res, err := h.svc.Submit(context.Background(), SubmitRequest{TenantID: testTenant, Documents: []Document{doc}})
	require.NoError(t, err)
	assert.Equal(t, models.BatchConfirming, res.Batch.Status)
}

func TestSubmitSyncAtThreshold(t *testing.T) {
	h := newHarness(t)
	names := []string{"a.pdf", "b.pdf", "c.pdf"}
	h.expectPlans(names...)

	res := h.submit(t, names...)

	assert.False(t, res.IsAsync)
	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, "analyzed 3 of 3 documents, 0 failed", res.Message)
	require.NotNil(t, res.Batch)
	assert.Equal(t, models.BatchConfirming, res.Batch.Status)
	assert.Equal(t, 3, res.Batch.AnalyzedCount)
	assert.Equal(t, 0, res.Batch.ErrorCount)
	assert.NotNil(t, res.Batch.StartedAt)

	items := h.items(t, res.BatchID)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, names[i], item.Filename, "items keep submission order")
		assert.Equal(t, i, item.DisplayOrder)
		assert.Equal(t, models.ItemAnalyzed, item.Status())
		assert.Equal(t, blob.DocumentKey(testTenant, res.BatchID, item.ID), item.DocumentRef)

		stored, err := h.blobs.Get(context.Background(), item.DocumentRef)
		require.NoError(t, err)
		assert.Equal(t, pdfDoc(names[i]).Content, stored)
	}
	h.analyzer.AssertExpectations(t)
}

func TestSubmitAsyncAboveThreshold(t *testing.T) {
	h := newHarness(t)
	names := []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"}
	h.expectPlans(names...)

	res := h.submit(t, names...)

	assert.True(t, res.IsAsync)
	assert.Equal(t, "4 documents queued for analysis", res.Message)
	assert.Equal(t, models.BatchPending, res.Batch.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Close(ctx))

	b := h.batch(t, res.BatchID)
	assert.Equal(t, models.BatchConfirming, b.Status)
	assert.Equal(t, 4, b.AnalyzedCount)

	jobs := h.svc.Jobs(testTenant)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobStatusCompleted, jobs[0].Status)
	assert.Equal(t, ModeQueued, jobs[0].Mode)
	assert.Equal(t, 4, jobs[0].Progress)
}

func TestSubmitQueueFullFailsBatch(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	blocking := analyzerFunc(func(ctx context.Context, doc analysis.Document) (models.ExtractedData, error) {
		started <- struct{}{}
		<-release
		return planData("Tower", "1-1 Shiba", "101"), nil
	})
	h := newHarness(t, harnessConfig{
		opts:     Options{SyncThreshold: 0, Workers: 1, QueueSize: 1},
		analyzer: blocking,
	})
	defer close(release)

	first := h.submit(t, "a.pdf")
	<-started // the worker holds the first batch
	second := h.submit(t, "b.pdf")
	assert.True(t, second.IsAsync)

	_, err := h.svc.Submit(context.Background(), SubmitRequest{TenantID: testTenant, Documents: pdfDocs("c.pdf")})
	require.ErrorIs(t, err, ErrQueueFull)

	batches, err := h.store.ListBatches(context.Background(), testTenant, 0)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	var rejected *models.ImportBatch
	for _, b := range batches {
		if b.ID != first.BatchID && b.ID != second.BatchID {
			rejected = b
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, models.BatchFailed, rejected.Status)
	assert.Equal(t, ErrQueueFull.Error(), rejected.Failure)
}

func TestSubmitCountsBatchesByDispatchMode(t *testing.T) {
	h := newHarness(t)
	h.expectPlans("a.pdf", "b.pdf", "c.pdf", "d.pdf")

	assert.False(t, h.submit(t, "a.pdf").IsAsync)
	assert.True(t, h.submit(t, "a.pdf", "b.pdf", "c.pdf", "d.pdf").IsAsync)

	expected := `
# HELP floorplan_batches_submitted_total Total number of import batches accepted
# TYPE floorplan_batches_submitted_total counter
floorplan_batches_submitted_total{mode="inline"} 1
floorplan_batches_submitted_total{mode="queued"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "floorplan_batches_submitted_total"))
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{opts: Options{SyncThreshold: 0, Workers: 1}})
	require.NoError(t, h.svc.Close(context.Background()))

	_, err := h.svc.Submit(context.Background(), SubmitRequest{TenantID: testTenant, Documents: pdfDocs("a.pdf")})
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestAnalysisItemFailureKeepsSiblings(t *testing.T) {
	h := newHarness(t)
	h.expectPlans("a.pdf")
	h.analyzer.On("Analyze", mock.Anything, "b.pdf").
		Return(nil, &analysis.Error{Filename: "b.pdf", Reason: "response is not valid JSON"})
	h.analyzer.On("Analyze", mock.Anything, "c.pdf").
		Return(planData("Residence C", "3-3 Azabu", "303"), nil)

	res := h.submit(t, "a.pdf", "b.pdf", "c.pdf")

	assert.Equal(t, "analyzed 2 of 3 documents, 1 failed", res.Message)
	b := h.batch(t, res.BatchID)
	assert.Equal(t, models.BatchConfirming, b.Status)
	assert.Equal(t, 3, b.AnalyzedCount)
	assert.Equal(t, 1, b.ErrorCount)

	items := h.items(t, res.BatchID)
	assert.Equal(t, models.ItemAnalyzed, items[0].Status())
	assert.Equal(t, models.ItemError, items[1].Status())
	assert.Contains(t, items[1].ErrorMessage(), "response is not valid JSON")
	assert.Equal(t, models.ItemAnalyzed, items[2].Status())

	var failures int
	for _, e := range b.Log {
		if e.Level == models.LogError {
			failures++
			assert.Contains(t, e.Message, "b.pdf: analysis failed")
		}
	}
	assert.Equal(t, 1, failures)
}

func TestAnalysisFatalErrorStillAnalyzesSiblings(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("Analyze", mock.Anything, "a.pdf").
		Return(nil, &analysis.Error{Filename: "a.pdf", Reason: "api call failed", Err: errors.Join(analysis.ErrFatalAPI, errors.New("ValidationException: The document is corrupt"))}).
		Once()
	h.expectPlans("b.pdf", "c.pdf")

	res := h.submit(t, "a.pdf", "b.pdf", "c.pdf")

	b := h.batch(t, res.BatchID)
	assert.Equal(t, models.BatchConfirming, b.Status)
	assert.Equal(t, 3, b.AnalyzedCount)
	assert.Equal(t, 1, b.ErrorCount)

	items := h.items(t, res.BatchID)
	assert.Equal(t, models.ItemError, items[0].Status())
	assert.Contains(t, items[0].ErrorMessage(), "ValidationException")
	for _, item := range items[1:] {
		assert.Equal(t, models.ItemAnalyzed, item.Status(), item.Filename)
	}
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 3)
}

func TestAnalysisErrorMessageIsTruncated(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("Analyze", mock.Anything, "a.pdf").Return(nil, errors.New(strings.Repeat("x", 5000)))

	res := h.submit(t, "a.pdf")

	item := h.items(t, res.BatchID)[0]
	assert.Equal(t, models.ItemError, item.Status())
	assert.Equal(t, maxMessageRunes, len([]rune(item.ErrorMessage())))
}

func TestAnalysisRecoversAnalyzerPanic(t *testing.T) {
	h := newHarness(t, harnessConfig{analyzer: analyzerFunc(func(context.Context, analysis.Document) (models.ExtractedData, error) {
		panic("boom")
	})})

	res := h.submit(t, "a.pdf")

	item := h.items(t, res.BatchID)[0]
	assert.Equal(t, models.ItemError, item.Status())
	assert.Equal(t, "analyzer panic: boom", item.ErrorMessage())
	assert.Equal(t, models.BatchConfirming, h.batch(t, res.BatchID).Status)
}

// flakyBlobs fails the nth Put.
type flakyBlobs struct {
	blob.Store
	failOn int32
	puts   atomic.Int32
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.puts.Add(1) == f.failOn {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, data)
}

func TestAnalysisUnstoredDocumentFailsAtUpload(t *testing.T) {
	h := newHarness(t, harnessConfig{blobs: &flakyBlobs{Store: blob.NewMemory(), failOn: 2}})
	h.expectPlans("a.pdf", "b.pdf")

	res := h.submit(t, "a.pdf", "b.pdf")

	items := h.items(t, res.BatchID)
	assert.Equal(t, models.ItemAnalyzed, items[0].Status())
	assert.Equal(t, models.ItemError, items[1].Status())
	assert.Empty(t, items[1].DocumentRef)
	assert.Equal(t, "document was not stored", items[1].ErrorMessage())
	failed, ok := items[1].State.(models.Failed)
	require.True(t, ok)
	assert.Equal(t, models.StageUpload, failed.Stage)

	b := h.batch(t, res.BatchID)
	assert.Equal(t, 2, b.AnalyzedCount)
	assert.Equal(t, 1, b.ErrorCount)
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestAnalysisStoresCandidates(t *testing.T) {
	h := newHarness(t)
	existing := seedBuilding(t, h, "Building A", "1 Chome, Minato-ku")
	h.expectPlans("a.pdf")

	res := h.submit(t, "a.pdf")

	item := h.items(t, res.BatchID)[0]
	cands := item.Candidates()
	require.NotEmpty(t, cands)
	assert.Equal(t, existing.ID, cands[0].BuildingID)
	assert.Nil(t, item.SelectedBuildingID, "candidates are proposals only")
}

func TestGetBatchIsTenantScoped(t *testing.T) {
	h := newHarness(t)
	h.expectPlans("a.pdf")
	res := h.submit(t, "a.pdf")

	detail, err := h.svc.GetBatch(context.Background(), testTenant, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, res.BatchID, detail.Batch.ID)
	assert.Len(t, detail.Items, 1)

	_, err = h.svc.GetBatch(context.Background(), "tenant-b", res.BatchID)
	assert.Error(t, err)

	list, err := h.svc.ListBatches(context.Background(), "tenant-b", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
