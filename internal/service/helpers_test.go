package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/floorplan-import/internal/analysis"
	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/matcher"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/sqlstore"
	"github.com/raphaelgruber/floorplan-import/internal/store"
	"github.com/raphaelgruber/floorplan-import/internal/vocabulary"
)

const testTenant = "tenant-a"

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, doc analysis.Document) (models.ExtractedData, error) {
	args := m.Called(ctx, doc.Filename)
	data, _ := args.Get(0).(models.ExtractedData)
	return data, args.Error(1)
}

type analyzerFunc func(ctx context.Context, doc analysis.Document) (models.ExtractedData, error)

func (f analyzerFunc) Analyze(ctx context.Context, doc analysis.Document) (models.ExtractedData, error) {
	return f(ctx, doc)
}

type fakeRenderer struct {
	err   error
	calls atomic.Int32
}

func (r *fakeRenderer) RenderFirstPage(context.Context, []byte) ([]byte, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("\x89PNG thumbnail"), nil
}

type harness struct {
	svc      *ImportService
	store    *sqlstore.Store
	blobs    blob.Store
	analyzer *mockAnalyzer
	renderer *fakeRenderer
	registry *prometheus.Registry
}

type harnessConfig struct {
	opts     Options
	analyzer analysis.Analyzer
	blobs    blob.Store
	wrap     func(store.Store) store.Store
}

func newHarness(t *testing.T, cfgs ...harnessConfig) *harness {
	t.Helper()
	var cfg harnessConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.opts == (Options{}) {
		cfg.opts.SyncThreshold = DefaultSyncThreshold
	}

	st, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "floorplan.db"), false)
	require.NoError(t, err)

	vocab, err := vocabulary.Default()
	require.NoError(t, err)
	require.NoError(t, st.EnsureFacilities(context.Background(), vocab.Facilities()))

	h := &harness{
		store:    st,
		blobs:    cfg.blobs,
		analyzer: &mockAnalyzer{},
		renderer: &fakeRenderer{},
		registry: prometheus.NewRegistry(),
	}
	pipeline, err := metrics.NewPipelineMetrics(h.registry)
	require.NoError(t, err)
	if h.blobs == nil {
		h.blobs = blob.NewMemory()
	}
	var an analysis.Analyzer = h.analyzer
	if cfg.analyzer != nil {
		an = cfg.analyzer
	}
	var svcStore store.Store = st
	if cfg.wrap != nil {
		svcStore = cfg.wrap(st)
	}

	h.svc = NewImportService(Deps{
		Store:      svcStore,
		Blobs:      h.blobs,
		Analyzer:   an,
		Matcher:    matcher.New(st, matcher.Options{}),
		Vocabulary: vocab,
		Thumbnails: h.renderer,
		Pipeline:   pipeline,
	}, cfg.opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Close(ctx)
		_ = st.Close()
	})
	return h
}

func pdfDoc(name string) Document {
	return Document{
		Filename:    name,
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.7\n% " + name + "\n"),
	}
}

func pdfDocs(names ...string) []Document {
	docs := make([]Document, len(names))
	for i, n := range names {
		docs[i] = pdfDoc(n)
	}
	return docs
}

// planData is analyzer output for a room in a named building.
func planData(building, address, room string) models.ExtractedData {
	return models.ExtractedData{
		models.SectionBuilding: map[string]any{
			"name":      building,
			"address":   address,
			"floors":    "5階建",
			"built_on":  "2015-03",
			"structure": "RC",
		},
		models.SectionRoom: map[string]any{
			"room_number": room,
			"room_type":   "1ldk",
			"area_sqm":    "25.3㎡",
			"rent":        "85,000円",
		},
		models.SectionFacilities: []any{"auto_lock", "オートロック", "rooftop_pool"},
	}
}

func (h *harness) submit(t *testing.T, names ...string) *SubmitResult {
	t.Helper()
	res, err := h.svc.Submit(context.Background(), SubmitRequest{
		TenantID:  testTenant,
		UserID:    "operator",
		Documents: pdfDocs(names...),
	})
	require.NoError(t, err)
	return res
}

func (h *harness) items(t *testing.T, batchID string) []*models.ImportItem {
	t.Helper()
	items, err := h.store.ListItems(context.Background(), batchID)
	require.NoError(t, err)
	return items
}

func (h *harness) batch(t *testing.T, batchID string) *models.ImportBatch {
	t.Helper()
	b, err := h.store.GetBatch(context.Background(), testTenant, batchID)
	require.NoError(t, err)
	return b
}

// expectPlans makes the mock analyzer answer each filename with a distinct building.
func (h *harness) expectPlans(names ...string) {
	for i, n := range names {
		h.analyzer.On("Analyze", mock.Anything, n).
			Return(planData(fmt.Sprintf("Building %c", 'A'+i), fmt.Sprintf("%d Chome, Minato-ku", i+1), fmt.Sprintf("%d01", i+1)), nil)
	}
}
