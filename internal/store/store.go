// Package store defines the persistence boundary of the import pipeline.
// Implementations live in sqlstore (gorm) and db (SurrealDB).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the record does not exist or belongs to another tenant.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create collided with an existing record.
	ErrAlreadyExists = errors.New("already exists")
)

// Store persists batches, items and the registered records they produce.
// Every batch and building lookup is tenant-scoped.
type Store interface {
	// CreateBatch writes a batch and its items atomically.
	CreateBatch(ctx context.Context, batch *models.ImportBatch, items []*models.ImportItem) error
	GetBatch(ctx context.Context, tenantID, batchID string) (*models.ImportBatch, error)
	// ListBatches returns the tenant's batches, newest first.
	ListBatches(ctx context.Context, tenantID string, limit int) ([]*models.ImportBatch, error)
	// ListBatchesByStatus returns batches of every tenant in the given states, oldest first.
	ListBatchesByStatus(ctx context.Context, statuses ...models.BatchStatus) ([]*models.ImportBatch, error)
	SaveBatch(ctx context.Context, batch *models.ImportBatch) error
	// TransitionBatch moves a batch from one status to another only if it is
	// still in the from status. It reports whether the move happened.
	TransitionBatch(ctx context.Context, batchID string, from, to models.BatchStatus) (bool, error)
	// ClaimStalledBatch sets updated_at to now on a pending or analyzing batch
	// last updated before staleBefore. Of several concurrent claimers at most
	// one sees true.
	ClaimStalledBatch(ctx context.Context, batchID string, staleBefore, now time.Time) (bool, error)

	// ListItems returns a batch's items in display order.
	ListItems(ctx context.Context, batchID string) ([]*models.ImportItem, error)
	GetItem(ctx context.Context, batchID, itemID string) (*models.ImportItem, error)
	SaveItem(ctx context.Context, item *models.ImportItem) error

	ListBuildings(ctx context.Context, tenantID string, limit int) ([]models.Building, error)
	FindBuilding(ctx context.Context, tenantID, buildingID string) (*models.Building, error)
	ListRooms(ctx context.Context, tenantID string) ([]models.Room, error)
	// RoomFacilities returns the facilities attached to a room, sorted by code.
	RoomFacilities(ctx context.Context, roomID string) ([]models.Facility, error)

	// Facilities returns the reference list, sorted by code.
	Facilities(ctx context.Context) ([]models.Facility, error)
	// EnsureFacilities inserts missing reference entries and updates changed names.
	EnsureFacilities(ctx context.Context, facilities []models.Facility) error

	// RunInTx runs fn inside one unit of work. A non-nil error from fn rolls
	// everything back; otherwise the work is committed.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the write side of a unit of work.
type Tx interface {
	// Savepoint runs fn in a nested scope. When fn fails, only its writes are
	// discarded and the error is returned; the outer unit of work stays usable.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error

	// FindBuilding reads committed buildings. Writes buffered by the current
	// unit of work may not be visible.
	FindBuilding(ctx context.Context, tenantID, buildingID string) (*models.Building, error)
	CreateBuilding(ctx context.Context, b *models.Building) error
	CreateRoom(ctx context.Context, r *models.Room) error
	AttachFacility(ctx context.Context, roomID, facilityID string) error
	SaveItem(ctx context.Context, item *models.ImportItem) error
	SaveBatch(ctx context.Context, batch *models.ImportBatch) error
}
