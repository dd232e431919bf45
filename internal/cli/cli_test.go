package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/floorplan-import/internal/client"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{
		"room.rent=92,000円",
		"building.name= Sunny Heights ",
		"room.floor=3",
		"facilities=auto_lock, delivery_box,,",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExtractedData{
		"room":       map[string]any{"rent": "92,000円", "floor": "3"},
		"building":   map[string]any{"name": "Sunny Heights"},
		"facilities": []any{"auto_lock", "delivery_box"},
	}, got)

	none, err := parseAssignments(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestParseAssignmentsErrors(t *testing.T) {
	tests := []struct {
		name string
		pair string
		want string
	}{
		{"missing value", "room.rent", "expected section.field=value"},
		{"empty key", "=5", "expected section.field=value"},
		{"no field", "room=5", "expected section.field"},
		{"unknown section", "owner.name=x", "unknown section"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAssignments([]string{tt.pair})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestCollectPDFs(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.pdf", "a.PDF", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	got, err := collectPDFs([]string{dir, filepath.Join(dir, "b.pdf")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PDF"), filepath.Join(dir, "b.pdf")}, got)

	_, err = collectPDFs([]string{filepath.Join(dir, "notes.txt")})
	assert.ErrorContains(t, err, "not a PDF")

	_, err = collectPDFs([]string{t.TempDir()})
	assert.ErrorContains(t, err, "no PDF files found")

	_, err = collectPDFs([]string{filepath.Join(dir, "missing.pdf")})
	assert.Error(t, err)
}

func batchDetail(status models.BatchStatus, analyzed, failed int) *client.BatchDetail {
	b := &models.ImportBatch{ID: "b-1", Status: status, Failure: ""}
	b.TotalFiles = 4
	b.AnalyzedCount = analyzed
	b.ErrorCount = failed
	return &client.BatchDetail{Batch: b}
}

func TestProgressModel(t *testing.T) {
	m := newProgressModel(nil, "b-1", 4)
	assert.Contains(t, m.renderContent(), "Loading batch status")

	next, cmd := m.Update(batchUpdateMsg{detail: batchDetail(models.BatchAnalyzing, 1, 1)})
	m = next.(progressModel)
	assert.False(t, m.done)
	assert.NotNil(t, cmd)
	view := m.renderContent()
	assert.Contains(t, view, "2/4 files")
	assert.Contains(t, view, "1 failed")

	next, _ = m.Update(batchUpdateMsg{detail: batchDetail(models.BatchConfirming, 3, 1)})
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.NoError(t, m.err)
	assert.Contains(t, m.renderContent(), "Ready for review")
}

func TestProgressModelFailures(t *testing.T) {
	failed := batchDetail(models.BatchFailed, 0, 0)
	failed.Batch.Failure = "import queue is full"

	next, _ := newProgressModel(nil, "b-1", 4).Update(batchUpdateMsg{detail: failed})
	m := next.(progressModel)
	assert.True(t, m.done)
	assert.EqualError(t, m.err, "import queue is full")

	next, _ = newProgressModel(nil, "b-1", 4).Update(batchUpdateMsg{err: errors.New("connection refused")})
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.ErrorContains(t, m.err, "connection refused")
}
