package db

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

// statement is one buffered SurrealQL statement with its own variables.
type statement struct {
	sql  string
	vars map[string]any
}

var varPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// prefixVars renames every $name in sql to $<prefix>_name so statements can
// share one query without their variables colliding.
func prefixVars(prefix, sql string, vars map[string]any) statement {
	renamed := make(map[string]any, len(vars))
	for k, v := range vars {
		renamed[prefix+"_"+k] = v
	}
	return statement{
		sql:  varPattern.ReplaceAllString(sql, "$$"+prefix+"_$1"),
		vars: renamed,
	}
}

// buildTransaction joins statements into one BEGIN ... COMMIT query.
func buildTransaction(stmts []statement) (string, map[string]any) {
	var sb strings.Builder
	vars := make(map[string]any)
	sb.WriteString("BEGIN TRANSACTION;\n")
	for _, s := range stmts {
		sb.WriteString(strings.TrimSpace(s.sql))
		sb.WriteString(";\n")
		maps.Copy(vars, s.vars)
	}
	sb.WriteString("COMMIT TRANSACTION;")
	return sb.String(), vars
}

type execFunc func(ctx context.Context, sql string, vars map[string]any) error

// bufferedTx collects writes and sends them as one transaction when the
// unit of work ends. A savepoint buffers into a child that is appended to
// its parent only when the savepoint's function succeeds. Reads go straight
// to the database and see committed data only.
type bufferedTx struct {
	store *Store
	stmts []statement
	seq   *int
}

func newBufferedTx(s *Store) *bufferedTx {
	return &bufferedTx{store: s, seq: new(int)}
}

func (t *bufferedTx) add(sql string, vars map[string]any) {
	*t.seq++
	t.stmts = append(t.stmts, prefixVars(fmt.Sprintf("s%d", *t.seq), sql, vars))
}

func (t *bufferedTx) commit(ctx context.Context, exec execFunc) error {
	if len(t.stmts) == 0 {
		return nil
	}
	sql, vars := buildTransaction(t.stmts)
	return exec(ctx, sql, vars)
}

func (t *bufferedTx) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	child := &bufferedTx{store: t.store, seq: t.seq}
	if err := fn(child); err != nil {
		return err
	}
	t.stmts = append(t.stmts, child.stmts...)
	return nil
}

func (t *bufferedTx) FindBuilding(ctx context.Context, tenantID, buildingID string) (*models.Building, error) {
	return t.store.FindBuilding(ctx, tenantID, buildingID)
}

func (t *bufferedTx) CreateBuilding(_ context.Context, b *models.Building) error {
	t.add(`CREATE type::record("building", $id) CONTENT $doc`, map[string]any{
		"id":  b.ID,
		"doc": buildingContent(b),
	})
	return nil
}

func (t *bufferedTx) CreateRoom(_ context.Context, r *models.Room) error {
	t.add(`CREATE type::record("room", $id) CONTENT $doc`, map[string]any{
		"id":  r.ID,
		"doc": roomContent(r),
	})
	return nil
}

func (t *bufferedTx) AttachFacility(_ context.Context, roomID, facilityID string) error {
	t.add(attachFacilitySQL, map[string]any{"room": roomID, "facility": facilityID})
	return nil
}

func (t *bufferedTx) SaveItem(_ context.Context, item *models.ImportItem) error {
	doc, err := itemContent(item)
	if err != nil {
		return err
	}
	t.add(saveItemSQL, map[string]any{"id": item.ID, "doc": doc})
	return nil
}

func (t *bufferedTx) SaveBatch(_ context.Context, batch *models.ImportBatch) error {
	doc, err := batchContent(batch)
	if err != nil {
		return err
	}
	t.add(saveBatchSQL, map[string]any{"id": batch.ID, "doc": doc})
	return nil
}

const (
	saveBatchSQL      = `UPSERT type::record("import_batch", $id) CONTENT $doc`
	saveItemSQL       = `UPSERT type::record("import_item", $id) CONTENT $doc`
	attachFacilitySQL = `UPSERT type::record("room_facility", [$room, $facility]) CONTENT { room_id: $room, facility_id: $facility }`
)
