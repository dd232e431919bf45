// Package storetest is the behavioural contract every store.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a ready store. Stores may be shared between subtests, so
// every case works on fresh tenant and record IDs.
type Factory func(t *testing.T) store.Store

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGetBatch", testCreateAndGetBatch},
		{"SaveBatch", testSaveBatch},
		{"ItemStates", testItemStates},
		{"TransitionBatch", testTransitionBatch},
		{"ClaimStalledBatch", testClaimStalledBatch},
		{"ListBatches", testListBatches},
		{"UnitOfWorkCommit", testUnitOfWorkCommit},
		{"UnitOfWorkRollback", testUnitOfWorkRollback},
		{"SavepointRollback", testSavepointRollback},
		{"BuildingsAreTenantScoped", testBuildingsAreTenantScoped},
		{"EnsureFacilities", testEnsureFacilities},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var errBoom = errors.New("boom")

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func tenant() string {
	return "tenant-" + uuid.NewString()[:8]
}

func newBatch(tenantID string, n int, at time.Time) (*models.ImportBatch, []*models.ImportItem) {
	b := models.NewBatch(uuid.NewString(), tenantID, "user-1", n, at)
	items := make([]*models.ImportItem, n)
	for i := range items {
		items[i] = models.NewItem(uuid.NewString(), b.ID, i, fmt.Sprintf("plan-%d.pdf", i), "application/pdf", 1024, at)
		items[i].DocumentRef = fmt.Sprintf("%s/%s/%s.pdf", tenantID, b.ID, items[i].ID)
	}
	return b, items
}

func newBuilding(tenantID, name string) *models.Building {
	floors := 8
	lat, lon := 35.6640, 139.6982
	at := now()
	return &models.Building{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Address:   "東京都渋谷区神南1-2-3",
		Structure: "RC",
		Floors:    &floors,
		Latitude:  &lat,
		Longitude: &lon,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func testCreateAndGetBatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	b, items := newBatch(tn, 2, now())
	require.NoError(t, s.CreateBatch(ctx, b, items))

	got, err := s.GetBatch(ctx, tn, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, got.Status)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, "user-1", got.UserID)
	assert.WithinDuration(t, b.CreatedAt, got.CreatedAt, time.Second)

	_, err = s.GetBatch(ctx, tenant(), b.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "other tenants must not see the batch")
	_, err = s.GetBatch(ctx, tn, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)

	listed, err := s.ListItems(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for i, item := range listed {
		assert.Equal(t, i, item.DisplayOrder)
		assert.Equal(t, items[i].ID, item.ID)
		assert.Equal(t, models.ItemPending, item.Status())
		assert.Equal(t, items[i].Filename, item.Filename)
		assert.Equal(t, items[i].DocumentRef, item.DocumentRef)
	}

	_, err = s.GetItem(ctx, b.ID, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSaveBatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	at := now()
	b, items := newBatch(tn, 1, at)
	require.NoError(t, s.CreateBatch(ctx, b, items))

	require.NoError(t, b.BeginAnalysis(at))
	require.NoError(t, b.Apply(models.AnalysisSucceeded{}))
	require.NoError(t, b.FinishAnalysis(at.Add(time.Second)))
	require.NoError(t, s.SaveBatch(ctx, b))

	got, err := s.GetBatch(ctx, tn, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchConfirming, got.Status)
	assert.Equal(t, 1, got.AnalyzedCount)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	require.Len(t, got.Log, 2)
	assert.Equal(t, b.Log[1].Message, got.Log[1].Message)
	assert.Equal(t, models.LogInfo, got.Log[1].Level)
}

func testItemStates(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	at := now()
	b, items := newBatch(tn, 3, at)
	require.NoError(t, s.CreateBatch(ctx, b, items))

	data := models.ExtractedData{
		"building":   map[string]any{"name": "Maison Aoyama", "floors": 12},
		"room":       map[string]any{"room_type": "1LDK", "area_sqm": 25.3},
		"facilities": []any{"auto_lock"},
	}
	candidates := []models.MatchCandidate{{BuildingID: "b-1", BuildingName: "Maison", Score: 0.72, Reasons: []string{"name similarity 0.80"}}}

	analyzed := items[0]
	require.NoError(t, analyzed.BeginAnalysis(at))
	require.NoError(t, analyzed.CompleteAnalysis(data, candidates, at))
	require.NoError(t, analyzed.Edit(models.ExtractedData{"room": map[string]any{"room_number": "301"}}, at))
	selected := "b-1"
	require.NoError(t, analyzed.SelectBuilding(&selected, at))

	failed := items[1]
	require.NoError(t, failed.BeginAnalysis(at))
	require.NoError(t, failed.FailAnalysis("analyzer timeout", at))

	registered := items[2]
	require.NoError(t, registered.BeginAnalysis(at))
	require.NoError(t, registered.CompleteAnalysis(data, nil, at))
	require.NoError(t, registered.MarkRegistered("b-9", "r-9", true, at))

	for _, item := range items {
		require.NoError(t, s.SaveItem(ctx, item))
	}

	got, err := s.GetItem(ctx, b.ID, analyzed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemAnalyzed, got.Status())
	assert.Equal(t, "Maison Aoyama", got.Extracted().Section(models.SectionBuilding).String("name"))
	floors, ok := got.Extracted().Section(models.SectionBuilding).Float("floors")
	assert.True(t, ok)
	assert.InDelta(t, 12, floors, 1e-9)
	require.Len(t, got.Candidates(), 1)
	assert.Equal(t, []string{"name similarity 0.80"}, got.Candidates()[0].Reasons)
	assert.InDelta(t, 0.72, got.Candidates()[0].Score, 1e-9)
	assert.Equal(t, "301", got.EffectiveData().Section(models.SectionRoom).String("room_number"))
	require.NotNil(t, got.SelectedBuildingID)
	assert.Equal(t, "b-1", *got.SelectedBuildingID)

	got, err = s.GetItem(ctx, b.ID, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemError, got.Status())
	assert.Equal(t, "analyzer timeout", got.ErrorMessage())

	got, err = s.GetItem(ctx, b.ID, registered.ID)
	require.NoError(t, err)
	state, ok := got.State.(models.Registered)
	require.True(t, ok)
	assert.Equal(t, "b-9", state.BuildingID)
	assert.Equal(t, "r-9", state.RoomID)
	assert.True(t, state.NewBuilding)
}

func testTransitionBatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	b, items := newBatch(tn, 1, now())
	require.NoError(t, s.CreateBatch(ctx, b, items))

	moved, err := s.TransitionBatch(ctx, b.ID, models.BatchPending, models.BatchAnalyzing)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.TransitionBatch(ctx, b.ID, models.BatchPending, models.BatchAnalyzing)
	require.NoError(t, err)
	assert.False(t, moved, "a second move from the same status must lose")

	got, err := s.GetBatch(ctx, tn, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchAnalyzing, got.Status)

	moved, err = s.TransitionBatch(ctx, uuid.NewString(), models.BatchPending, models.BatchAnalyzing)
	require.NoError(t, err)
	assert.False(t, moved)
}

func testClaimStalledBatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	at := now().Add(-time.Hour)
	b, items := newBatch(tn, 1, at)
	require.NoError(t, s.CreateBatch(ctx, b, items))

	claimed, err := s.ClaimStalledBatch(ctx, b.ID, at.Add(-time.Minute), now())
	require.NoError(t, err)
	assert.False(t, claimed, "a batch updated after the cutoff is not stale")

	claimed, err = s.ClaimStalledBatch(ctx, b.ID, at.Add(time.Minute), now())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimStalledBatch(ctx, b.ID, at.Add(time.Minute), now())
	require.NoError(t, err)
	assert.False(t, claimed, "the first claim refreshed updated_at")

	got, err := s.GetBatch(ctx, tn, b.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, now(), got.UpdatedAt, 2*time.Second)

	done, doneItems := newBatch(tn, 1, at)
	done.Status = models.BatchCompleted
	require.NoError(t, s.CreateBatch(ctx, done, doneItems))
	claimed, err = s.ClaimStalledBatch(ctx, done.ID, now(), now())
	require.NoError(t, err)
	assert.False(t, claimed, "settled batches are never claimed")
}

func testListBatches(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	base := now()
	var ids []string
	for i := 0; i < 3; i++ {
		b, items := newBatch(tn, 1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateBatch(ctx, b, items))
		ids = append(ids, b.ID)
	}
	other, otherItems := newBatch(tenant(), 1, base)
	require.NoError(t, s.CreateBatch(ctx, other, otherItems))

	got, err := s.ListBatches(ctx, tn, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{got[0].ID, got[1].ID, got[2].ID})

	got, err = s.ListBatches(ctx, tn, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	moved, err := s.TransitionBatch(ctx, ids[0], models.BatchPending, models.BatchAnalyzing)
	require.NoError(t, err)
	require.True(t, moved)

	stalled, err := s.ListBatchesByStatus(ctx, models.BatchAnalyzing)
	require.NoError(t, err)
	var found []string
	for _, b := range stalled {
		assert.Equal(t, models.BatchAnalyzing, b.Status)
		found = append(found, b.ID)
	}
	assert.Contains(t, found, ids[0])
	assert.NotContains(t, found, ids[1])
}

func registerFixture(t *testing.T, s store.Store, tn string) (*models.ImportBatch, *models.ImportItem, models.Facility) {
	ctx := context.Background()
	at := now()
	b, items := newBatch(tn, 1, at)
	require.NoError(t, s.CreateBatch(ctx, b, items))
	item := items[0]
	require.NoError(t, item.BeginAnalysis(at))
	require.NoError(t, item.CompleteAnalysis(models.ExtractedData{}, nil, at))
	require.NoError(t, s.SaveItem(ctx, item))

	code := "test_" + uuid.NewString()[:8]
	f := models.Facility{ID: uuid.NewString(), Code: code, Name: "Test facility", Category: "security"}
	require.NoError(t, s.EnsureFacilities(ctx, []models.Facility{f}))
	return b, item, f
}

func testUnitOfWorkCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	b, item, facility := registerFixture(t, s, tn)

	building := newBuilding(tn, "Sunrise Court")
	area := 25.3
	rent := 85000
	room := &models.Room{
		ID: uuid.NewString(), TenantID: tn, BuildingID: building.ID,
		RoomNumber: "301", RoomType: "1LDK", AreaSqm: &area, Rent: &rent,
		DocumentRef: item.DocumentRef, SourceItemID: item.ID,
		CreatedAt: now(), UpdatedAt: now(),
	}

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.Savepoint(ctx, func(tx store.Tx) error {
			if err := tx.CreateBuilding(ctx, building); err != nil {
				return err
			}
			if err := tx.CreateRoom(ctx, room); err != nil {
				return err
			}
			if err := tx.AttachFacility(ctx, room.ID, facility.ID); err != nil {
				return err
			}
			if err := item.MarkRegistered(building.ID, room.ID, true, now()); err != nil {
				return err
			}
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
			b.AppendLog(models.LogInfo, "registered", now())
			return tx.SaveBatch(ctx, b)
		})
	})
	require.NoError(t, err)

	gotBuilding, err := s.FindBuilding(ctx, tn, building.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sunrise Court", gotBuilding.Name)
	require.NotNil(t, gotBuilding.Floors)
	assert.Equal(t, 8, *gotBuilding.Floors)
	require.NotNil(t, gotBuilding.Latitude)
	assert.InDelta(t, 35.6640, *gotBuilding.Latitude, 1e-9)

	rooms, err := s.ListRooms(ctx, tn)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, building.ID, rooms[0].BuildingID)
	assert.Equal(t, "1LDK", rooms[0].RoomType)
	require.NotNil(t, rooms[0].Rent)
	assert.Equal(t, 85000, *rooms[0].Rent)

	facilities, err := s.RoomFacilities(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, facilities, 1)
	assert.Equal(t, facility.Code, facilities[0].Code)

	gotItem, err := s.GetItem(ctx, b.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemRegistered, gotItem.Status())

	gotBatch, err := s.GetBatch(ctx, tn, b.ID)
	require.NoError(t, err)
	last, ok := gotBatch.LastLog()
	require.True(t, ok)
	assert.Equal(t, "registered", last.Message)
}

func testUnitOfWorkRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	building := newBuilding(tn, "Rolled Back")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateBuilding(ctx, building); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.FindBuilding(ctx, tn, building.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSavepointRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn := tenant()
	kept := newBuilding(tn, "Kept")
	dropped := newBuilding(tn, "Dropped")
	after := newBuilding(tn, "After")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.Savepoint(ctx, func(tx store.Tx) error {
			return tx.CreateBuilding(ctx, kept)
		}); err != nil {
			return err
		}
		err := tx.Savepoint(ctx, func(tx store.Tx) error {
			if err := tx.CreateBuilding(ctx, dropped); err != nil {
				return err
			}
			return errBoom
		})
		if !errors.Is(err, errBoom) {
			return fmt.Errorf("savepoint returned %v", err)
		}
		return tx.Savepoint(ctx, func(tx store.Tx) error {
			return tx.CreateBuilding(ctx, after)
		})
	})
	require.NoError(t, err)

	_, err = s.FindBuilding(ctx, tn, kept.ID)
	assert.NoError(t, err)
	_, err = s.FindBuilding(ctx, tn, after.ID)
	assert.NoError(t, err)
	_, err = s.FindBuilding(ctx, tn, dropped.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testBuildingsAreTenantScoped(t *testing.T, s store.Store) {
	ctx := context.Background()
	tn, other := tenant(), tenant()
	mine := newBuilding(tn, "Mine")
	theirs := newBuilding(other, "Theirs")
	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateBuilding(ctx, mine); err != nil {
			return err
		}
		return tx.CreateBuilding(ctx, theirs)
	}))

	_, err := s.FindBuilding(ctx, tn, theirs.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindBuilding(ctx, tn, theirs.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListBuildings(ctx, tn, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)
}

func testEnsureFacilities(t *testing.T, s store.Store) {
	ctx := context.Background()
	prefix := "ensure_" + uuid.NewString()[:8]
	facilities := []models.Facility{
		{ID: uuid.NewString(), Code: prefix + "_a", Name: "A", Category: "security"},
		{ID: uuid.NewString(), Code: prefix + "_b", Name: "B"},
	}
	require.NoError(t, s.EnsureFacilities(ctx, facilities))
	facilities[1].Name = "B renamed"
	require.NoError(t, s.EnsureFacilities(ctx, facilities))

	all, err := s.Facilities(ctx)
	require.NoError(t, err)
	var mine []models.Facility
	for _, f := range all {
		if strings.HasPrefix(f.Code, prefix) {
			mine = append(mine, f)
		}
	}
	require.Len(t, mine, 2)
	assert.True(t, slices.IsSortedFunc(all, func(a, b models.Facility) int {
		return strings.Compare(a.Code, b.Code)
	}))
	assert.Equal(t, facilities[0].ID, mine[0].ID)
	assert.Equal(t, "B renamed", mine[1].Name)
}
