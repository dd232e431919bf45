package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// seedStalledBatch stores an analyzing batch, last touched an hour ago, whose
// first item was with the analyzer when the process died and whose second
// item never started.
func seedStalledBatch(t *testing.T, h *harness) *models.ImportBatch {
	t.Helper()
	return seedAnalyzingBatch(t, h, time.Now().UTC().Add(-time.Hour))
}

func seedAnalyzingBatch(t *testing.T, h *harness, now time.Time) *models.ImportBatch {
	t.Helper()
	ctx := context.Background()

	b := models.NewBatch("stalled", testTenant, "operator", 2, now)
	require.NoError(t, b.BeginAnalysis(now))

	interrupted := models.NewItem("item-1", b.ID, 0, "a.pdf", "application/pdf", 10, now)
	interrupted.DocumentRef = blob.DocumentKey(testTenant, b.ID, interrupted.ID)
	require.NoError(t, interrupted.BeginAnalysis(now))

	waiting := models.NewItem("item-2", b.ID, 1, "b.pdf", "application/pdf", 10, now)
	waiting.DocumentRef = blob.DocumentKey(testTenant, b.ID, waiting.ID)
	require.NoError(t, h.blobs.Put(ctx, waiting.DocumentRef, pdfDoc("b.pdf").Content))

	require.NoError(t, h.store.CreateBatch(ctx, b, []*models.ImportItem{interrupted, waiting}))
	return b
}

func TestResumeStalledBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.analyzer.On("Analyze", mock.Anything, "b.pdf").Return(planData("B", "2 Shiba", "201"), nil)
	b := seedStalledBatch(t, h)

	n, err := h.svc.ResumeStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Close(closeCtx))

	got := h.batch(t, b.ID)
	assert.Equal(t, models.BatchConfirming, got.Status)
	assert.Equal(t, 2, got.AnalyzedCount)
	assert.Equal(t, 1, got.ErrorCount)

	items := h.items(t, b.ID)
	assert.Equal(t, models.ItemError, items[0].Status())
	assert.Equal(t, interruptedMessage, items[0].ErrorMessage())
	assert.Equal(t, models.ItemAnalyzed, items[1].Status())
	h.analyzer.AssertNumberOfCalls(t, "Analyze", 1)

	var resumed bool
	for _, e := range got.Log {
		if e.Message == "analysis resumed" {
			resumed = true
		}
	}
	assert.True(t, resumed)
}

func TestResumeStalledLeavesActiveBatchAlone(t *testing.T) {
	h := newHarness(t)
	b := seedAnalyzingBatch(t, h, time.Now().UTC().Add(-time.Minute))

	n, err := h.svc.ResumeStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got := h.batch(t, b.ID)
	assert.Equal(t, models.BatchAnalyzing, got.Status)
	assert.Equal(t, 0, got.AnalyzedCount)
	items := h.items(t, b.ID)
	assert.Equal(t, models.ItemAnalyzing, items[0].Status())
	h.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestResumeStalledClaimsOnce(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("Analyze", mock.Anything, "b.pdf").Return(planData("B", "2 Shiba", "201"), nil)
	b := seedStalledBatch(t, h)

	// another instance claimed it first
	claimed, err := h.store.ClaimStalledBatch(context.Background(), b.ID, time.Now().Add(-time.Minute), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := h.svc.ResumeStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	h.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestResumeStalledSkipsSettledBatches(t *testing.T) {
	h := newHarness(t)
	h.expectPlans("a.pdf")
	h.submit(t, "a.pdf")

	n, err := h.svc.ResumeStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNewJanitorValidatesSchedule(t *testing.T) {
	h := newHarness(t)

	_, err := NewJanitor(h.svc, "every now and then", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid janitor schedule")

	j, err := NewJanitor(h.svc, "@every 5m", nil)
	require.NoError(t, err)
	j.Start()
	j.Stop()
}

func TestJanitorSweepRequeuesStalledBatches(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("Analyze", mock.Anything, "b.pdf").Return(planData("B", "2 Shiba", "201"), nil)
	b := seedStalledBatch(t, h)

	j, err := NewJanitor(h.svc, "*/5 * * * *", nil)
	require.NoError(t, err)
	j.Sweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Close(ctx))
	assert.Equal(t, models.BatchConfirming, h.batch(t, b.ID).Status)
}
