package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzedItem(t *testing.T) *ImportItem {
	t.Helper()
	item := NewItem("i1", "b1", 0, "plan.pdf", "application/pdf", 1024, t0)
	require.NoError(t, item.BeginAnalysis(t0))
	require.NoError(t, item.CompleteAnalysis(ExtractedData{
		"building": map[string]any{"name": "Sunrise Court", "address": "1-2-3 Shibuya"},
		"room":     map[string]any{"room_number": "101", "rent": 85000.0},
	}, []MatchCandidate{{BuildingID: "bld-1", Score: 0.8}}, t0))
	return item
}

func TestItemHappyPath(t *testing.T) {
	item := analyzedItem(t)
	assert.Equal(t, ItemAnalyzed, item.Status())
	assert.Len(t, item.Candidates(), 1)

	require.NoError(t, item.MarkRegistered("bld-1", "room-1", false, t0))
	assert.Equal(t, ItemRegistered, item.Status())

	reg, ok := item.State.(Registered)
	require.True(t, ok)
	assert.Equal(t, "room-1", reg.RoomID)
	assert.Equal(t, "Sunrise Court", reg.Extracted.Section("building").String("name"))
}

func TestItemIllegalTransitions(t *testing.T) {
	item := NewItem("i1", "b1", 0, "plan.pdf", "application/pdf", 1, t0)

	assert.True(t, errors.Is(item.CompleteAnalysis(ExtractedData{}, nil, t0), ErrInvalidTransition))
	assert.True(t, errors.Is(item.MarkRegistered("b", "r", true, t0), ErrInvalidTransition))
	assert.True(t, errors.Is(item.FailAnalysis("boom", t0), ErrInvalidTransition))
	assert.True(t, errors.Is(item.Edit(ExtractedData{"x": 1}, t0), ErrInvalidTransition))
	assert.Equal(t, ItemPending, item.Status())

	require.NoError(t, item.FailUpload("document missing", t0))
	assert.Equal(t, ItemError, item.Status())
	assert.Equal(t, "document missing", item.ErrorMessage())
	assert.True(t, errors.Is(item.BeginAnalysis(t0), ErrInvalidTransition))
}

func TestItemFailRegistrationKeepsExtractedData(t *testing.T) {
	item := analyzedItem(t)
	require.NoError(t, item.FailRegistration("building not found", t0))

	f, ok := item.State.(Failed)
	require.True(t, ok)
	assert.Equal(t, StageRegistration, f.Stage)
	assert.NotNil(t, f.Extracted)
	assert.Equal(t, "building not found", item.ErrorMessage())
}

func TestItemEditMergesAndKeepsStatus(t *testing.T) {
	item := analyzedItem(t)
	require.NoError(t, item.Edit(ExtractedData{"building": map[string]any{"name": "Sunrise Court East"}}, t0))
	require.NoError(t, item.Edit(ExtractedData{"room": map[string]any{"floor": 2}}, t0))

	assert.Equal(t, ItemAnalyzed, item.Status())
	eff := item.EffectiveData()
	assert.Equal(t, "Sunrise Court East", eff.Section("building").String("name"))
	assert.Equal(t, "1-2-3 Shibuya", eff.Section("building").String("address"))
	floor, ok := eff.Section("room").Int("floor")
	require.True(t, ok)
	assert.Equal(t, 2, floor)

	// extracted data itself is untouched
	assert.Equal(t, "Sunrise Court", item.Extracted().Section("building").String("name"))
}

func TestItemSelectBuilding(t *testing.T) {
	item := analyzedItem(t)
	id := "bld-1"
	require.NoError(t, item.SelectBuilding(&id, t0))
	require.NotNil(t, item.SelectedBuildingID)
	assert.Equal(t, "bld-1", *item.SelectedBuildingID)

	empty := ""
	require.NoError(t, item.SelectBuilding(&empty, t0))
	assert.Nil(t, item.SelectedBuildingID)
}

func TestItemFieldsRoundTrip(t *testing.T) {
	item := analyzedItem(t)
	require.NoError(t, item.MarkRegistered("bld-1", "room-1", true, t0))

	back, err := ItemFromFields(item.Fields())
	require.NoError(t, err)
	assert.Equal(t, item.State, back.State)

	raw, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"registered"`)
	assert.Contains(t, string(raw), `"room_id":"room-1"`)
}

func TestItemFromFieldsRejectsInconsistentRows(t *testing.T) {
	tests := []struct {
		name   string
		fields ItemFields
	}{
		{"analyzed with error", ItemFields{ID: "x", Status: ItemAnalyzed, ErrorMessage: "boom"}},
		{"registered without room", ItemFields{ID: "x", Status: ItemRegistered, BuildingID: "b"}},
		{"error without message", ItemFields{ID: "x", Status: ItemError}},
		{"pending with records", ItemFields{ID: "x", Status: ItemPending, RoomID: "r"}},
		{"unknown status", ItemFields{ID: "x", Status: "done"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ItemFromFields(tt.fields)
			assert.Error(t, err)
		})
	}
}

func TestItemCloneIsIndependent(t *testing.T) {
	item := analyzedItem(t)
	clone := item.Clone()
	require.NoError(t, clone.MarkRegistered("b", "r", true, t0))

	assert.Equal(t, ItemAnalyzed, item.Status())
	assert.Equal(t, ItemRegistered, clone.Status())
}
