package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

const defaultListLimit = 50

// Store implements store.Store on a SurrealDB client.
type Store struct {
	c    *Client
	exec execFunc
}

var _ store.Store = (*Store)(nil)

// NewStore wraps a connected client. Call Client.InitSchema first.
func NewStore(c *Client) *Store {
	s := &Store{c: c}
	s.exec = s.runQuery
	return s
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.c.Close(context.Background())
}

func (s *Store) runQuery(ctx context.Context, sql string, vars map[string]any) error {
	_, err := surrealdb.Query[any](ctx, s.c.db, sql, vars)
	return wrapQueryError(err)
}

func firstResult[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// CreateBatch writes the batch and its items in one transaction.
func (s *Store) CreateBatch(ctx context.Context, batch *models.ImportBatch, items []*models.ImportItem) error {
	tx := newBufferedTx(s)
	if err := tx.SaveBatch(ctx, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	for _, item := range items {
		if err := tx.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
	}
	if err := tx.commit(ctx, s.exec); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// GetBatch loads a batch owned by tenantID.
func (s *Store) GetBatch(ctx context.Context, tenantID, batchID string) (*models.ImportBatch, error) {
	results, err := surrealdb.Query[[]batchRecord](ctx, s.c.db, `
		SELECT * FROM type::record("import_batch", $id) WHERE tenant_id = $tenant
	`, map[string]any{"id": batchID, "tenant": tenantID})
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("get batch %s: %w", batchID, store.ErrNotFound)
	}
	return rows[0].toModel()
}

// ListBatches returns the tenant's batches, newest first.
func (s *Store) ListBatches(ctx context.Context, tenantID string, limit int) ([]*models.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	results, err := surrealdb.Query[[]batchRecord](ctx, s.c.db, `
		SELECT * FROM import_batch WHERE tenant_id = $tenant
		ORDER BY created_at DESC, id DESC LIMIT $limit
	`, map[string]any{"tenant": tenantID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batchesFromRecords(firstResult(results))
}

// ListBatchesByStatus returns batches of every tenant in the given states, oldest first.
func (s *Store) ListBatchesByStatus(ctx context.Context, statuses ...models.BatchStatus) ([]*models.ImportBatch, error) {
	if len(statuses) == 0 {
		return []*models.ImportBatch{}, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	results, err := surrealdb.Query[[]batchRecord](ctx, s.c.db, `
		SELECT * FROM import_batch WHERE status IN $statuses ORDER BY created_at ASC, id ASC
	`, map[string]any{"statuses": names})
	if err != nil {
		return nil, fmt.Errorf("list batches by status: %w", err)
	}
	return batchesFromRecords(firstResult(results))
}

func batchesFromRecords(rows []batchRecord) ([]*models.ImportBatch, error) {
	out := make([]*models.ImportBatch, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// SaveBatch replaces the stored batch.
func (s *Store) SaveBatch(ctx context.Context, batch *models.ImportBatch) error {
	doc, err := batchContent(batch)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	if err := s.exec(ctx, saveBatchSQL, map[string]any{"id": batch.ID, "doc": doc}); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

// TransitionBatch is a conditional status update.
func (s *Store) TransitionBatch(ctx context.Context, batchID string, from, to models.BatchStatus) (bool, error) {
	results, err := surrealdb.Query[[]batchRecord](ctx, s.c.db, `
		UPDATE type::record("import_batch", $id)
		SET status = $to, updated_at = time::now()
		WHERE status = $from
		RETURN AFTER
	`, map[string]any{"id": batchID, "from": string(from), "to": string(to)})
	if err != nil {
		return false, fmt.Errorf("transition batch: %w", wrapQueryError(err))
	}
	return len(firstResult(results)) == 1, nil
}

// ClaimStalledBatch is a conditional touch of updated_at.
func (s *Store) ClaimStalledBatch(ctx context.Context, batchID string, staleBefore, now time.Time) (bool, error) {
	results, err := surrealdb.Query[[]batchRecord](ctx, s.c.db, `
		UPDATE type::record("import_batch", $id)
		SET updated_at = $now
		WHERE status IN $statuses AND updated_at < $stale
		RETURN AFTER
	`, map[string]any{
		"id":       batchID,
		"statuses": []string{string(models.BatchPending), string(models.BatchAnalyzing)},
		"stale":    staleBefore.UTC(),
		"now":      now.UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("claim batch: %w", wrapQueryError(err))
	}
	return len(firstResult(results)) == 1, nil
}

// ListItems returns a batch's items in display order.
func (s *Store) ListItems(ctx context.Context, batchID string) ([]*models.ImportItem, error) {
	results, err := surrealdb.Query[[]itemRecord](ctx, s.c.db, `
		SELECT * FROM import_item WHERE batch_id = $batch ORDER BY display_order ASC
	`, map[string]any{"batch": batchID})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	rows := firstResult(results)
	items := make([]*models.ImportItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// GetItem loads one item of a batch.
func (s *Store) GetItem(ctx context.Context, batchID, itemID string) (*models.ImportItem, error) {
	results, err := surrealdb.Query[[]itemRecord](ctx, s.c.db, `
		SELECT * FROM type::record("import_item", $id) WHERE batch_id = $batch
	`, map[string]any{"id": itemID, "batch": batchID})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("get item %s: %w", itemID, store.ErrNotFound)
	}
	item, err := rows[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// SaveItem replaces the stored item.
func (s *Store) SaveItem(ctx context.Context, item *models.ImportItem) error {
	doc, err := itemContent(item)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	if err := s.exec(ctx, saveItemSQL, map[string]any{"id": item.ID, "doc": doc}); err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

// ListBuildings returns up to limit of the tenant's buildings ordered by id.
func (s *Store) ListBuildings(ctx context.Context, tenantID string, limit int) ([]models.Building, error) {
	sql := `SELECT * FROM building WHERE tenant_id = $tenant ORDER BY id ASC`
	vars := map[string]any{"tenant": tenantID}
	if limit > 0 {
		sql += ` LIMIT $limit`
		vars["limit"] = limit
	}
	results, err := surrealdb.Query[[]buildingRecord](ctx, s.c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	rows := firstResult(results)
	out := make([]models.Building, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("list buildings: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// FindBuilding loads a building owned by tenantID.
func (s *Store) FindBuilding(ctx context.Context, tenantID, buildingID string) (*models.Building, error) {
	results, err := surrealdb.Query[[]buildingRecord](ctx, s.c.db, `
		SELECT * FROM type::record("building", $id) WHERE tenant_id = $tenant
	`, map[string]any{"id": buildingID, "tenant": tenantID})
	if err != nil {
		return nil, fmt.Errorf("find building: %w", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("find building %s: %w", buildingID, store.ErrNotFound)
	}
	b, err := rows[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("find building: %w", err)
	}
	return &b, nil
}

// ListRooms returns the tenant's rooms, oldest first.
func (s *Store) ListRooms(ctx context.Context, tenantID string) ([]models.Room, error) {
	results, err := surrealdb.Query[[]roomRecord](ctx, s.c.db, `
		SELECT * FROM room WHERE tenant_id = $tenant ORDER BY created_at ASC, id ASC
	`, map[string]any{"tenant": tenantID})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	rows := firstResult(results)
	out := make([]models.Room, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// RoomFacilities returns the facilities attached to a room, sorted by code.
func (s *Store) RoomFacilities(ctx context.Context, roomID string) ([]models.Facility, error) {
	results, err := surrealdb.Query[[]string](ctx, s.c.db, `
		SELECT VALUE facility_id FROM room_facility WHERE room_id = $room
	`, map[string]any{"room": roomID})
	if err != nil {
		return nil, fmt.Errorf("room facilities: %w", err)
	}
	attached := firstResult(results)
	if len(attached) == 0 {
		return []models.Facility{}, nil
	}

	all, err := s.Facilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("room facilities: %w", err)
	}
	out := make([]models.Facility, 0, len(attached))
	for _, f := range all {
		if slices.Contains(attached, f.ID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Facilities returns the reference list, sorted by code.
func (s *Store) Facilities(ctx context.Context) ([]models.Facility, error) {
	results, err := surrealdb.Query[[]facilityRecord](ctx, s.c.db, `SELECT * FROM facility ORDER BY code ASC`, nil)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	rows := firstResult(results)
	out := make([]models.Facility, 0, len(rows))
	for i := range rows {
		f, err := rows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("list facilities: %w", err)
		}
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b models.Facility) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

// EnsureFacilities upserts the reference list in one transaction.
func (s *Store) EnsureFacilities(ctx context.Context, facilities []models.Facility) error {
	tx := newBufferedTx(s)
	for _, f := range facilities {
		tx.add(`UPSERT type::record("facility", $id) CONTENT $doc`, map[string]any{
			"id":  f.ID,
			"doc": map[string]any{"code": f.Code, "name": f.Name, "category": f.Category},
		})
	}
	if err := tx.commit(ctx, s.exec); err != nil {
		return fmt.Errorf("ensure facilities: %w", err)
	}
	return nil
}

// RunInTx buffers fn's writes and commits them as one transaction when fn
// succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := newBufferedTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.commit(ctx, s.exec); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
