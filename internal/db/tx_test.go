package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func surrealRecordID(table, id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, id)
}

type recordedQuery struct {
	sql  string
	vars map[string]any
}

func fakeStore(calls *[]recordedQuery) *Store {
	return &Store{exec: func(_ context.Context, sql string, vars map[string]any) error {
		*calls = append(*calls, recordedQuery{sql: sql, vars: vars})
		return nil
	}}
}

func TestPrefixVars(t *testing.T) {
	st := prefixVars("s7", `UPSERT type::record("room_facility", [$room, $facility]) CONTENT { room_id: $room }`,
		map[string]any{"room": "r1", "facility": "f1"})

	assert.Equal(t, `UPSERT type::record("room_facility", [$s7_room, $s7_facility]) CONTENT { room_id: $s7_room }`, st.sql)
	assert.Equal(t, map[string]any{"s7_room": "r1", "s7_facility": "f1"}, st.vars)
}

func TestRunInTxBuffersUntilSuccess(t *testing.T) {
	var calls []recordedQuery
	s := fakeStore(&calls)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateBuilding(ctx, &models.Building{ID: "b1", TenantID: "t1"}))
		assert.Empty(t, calls, "nothing is sent before the unit of work ends")

		err := tx.Savepoint(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.CreateRoom(ctx, &models.Room{ID: "r-dropped"}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		return tx.Savepoint(ctx, func(tx store.Tx) error {
			if err := tx.CreateRoom(ctx, &models.Room{ID: "r-kept"}); err != nil {
				return err
			}
			return tx.AttachFacility(ctx, "r-kept", "f1")
		})
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)

	sql := calls[0].sql
	assert.True(t, strings.HasPrefix(sql, "BEGIN TRANSACTION;"))
	assert.True(t, strings.HasSuffix(sql, "COMMIT TRANSACTION;"))
	// BEGIN plus building, kept room and facility link
	assert.Equal(t, 4, strings.Count(sql, ";\n"))
	assert.Equal(t, "b1", calls[0].vars["s1_id"])
	assert.NotContains(t, calls[0].vars, "s2_id", "the failed savepoint's statement is discarded")
	assert.Equal(t, "r-kept", calls[0].vars["s3_id"])
	assert.Equal(t, "f1", calls[0].vars["s4_facility"])
}

func TestRunInTxErrorSendsNothing(t *testing.T) {
	var calls []recordedQuery
	s := fakeStore(&calls)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateBuilding(ctx, &models.Building{ID: "b1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, calls)

	require.NoError(t, s.RunInTx(ctx, func(store.Tx) error { return nil }))
	assert.Empty(t, calls, "an empty unit of work sends no query")
}

func TestCreateBatchIsOneTransaction(t *testing.T) {
	var calls []recordedQuery
	s := fakeStore(&calls)
	b := models.NewBatch("b1", "t1", "u1", 2, t0)
	items := []*models.ImportItem{
		models.NewItem("i1", "b1", 0, "a.pdf", "application/pdf", 1, t0),
		models.NewItem("i2", "b1", 1, "b.pdf", "application/pdf", 1, t0),
	}

	require.NoError(t, s.CreateBatch(context.Background(), b, items))
	require.Len(t, calls, 1)
	assert.Equal(t, 3, strings.Count(calls[0].sql, "UPSERT"))
	doc, ok := calls[0].vars["s2_doc"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pending", doc["status"])
	assert.Equal(t, "null", doc["extracted_data"])
}

func TestItemRecordRoundTrip(t *testing.T) {
	item := models.NewItem("i1", "b1", 0, "a.pdf", "application/pdf", 1, t0)
	require.NoError(t, item.BeginAnalysis(t0))
	require.NoError(t, item.CompleteAnalysis(models.ExtractedData{"building": map[string]any{"name": "A"}},
		[]models.MatchCandidate{{BuildingID: "b-1", Score: 0.5, Reasons: []string{"name similarity 0.90"}}}, t0))

	doc, err := itemContent(item)
	require.NoError(t, err)

	rec := itemRecord{
		ID:            surrealRecordID("import_item", "i1"),
		BatchID:       doc["batch_id"].(string),
		Status:        doc["status"].(string),
		ExtractedData: doc["extracted_data"].(string),
		Candidates:    doc["candidates"].(string),
		EditedData:    doc["edited_data"].(string),
	}
	got, err := rec.toModel()
	require.NoError(t, err)
	assert.Equal(t, models.ItemAnalyzed, got.Status())
	assert.Equal(t, "A", got.Extracted().Section(models.SectionBuilding).String("name"))
	require.Len(t, got.Candidates(), 1)
	assert.Equal(t, "b-1", got.Candidates()[0].BuildingID)
}

func TestWrapQueryError(t *testing.T) {
	err := wrapQueryError(&surrealdb.QueryError{Message: "Database record `building:b1` already exists"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	err = wrapQueryError(&surrealdb.QueryError{Message: "Transaction conflict: resource busy"})
	assert.ErrorIs(t, err, ErrTransactionConflict)

	plain := errors.New("socket closed")
	assert.Equal(t, plain, wrapQueryError(plain))
	assert.NoError(t, wrapQueryError(nil))
}
