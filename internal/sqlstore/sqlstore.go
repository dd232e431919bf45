// Package sqlstore implements store.Store on GORM, backed by SQLite or MySQL.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

const defaultListLimit = 50

// MySQLConfig holds MySQL connection settings.
type MySQLConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// Store is a GORM-backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func gormConfig(debug bool) *gorm.Config {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	}
}

// OpenSQLite opens (and creates) the SQLite database at path and migrates it.
func OpenSQLite(path string, debug bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(debug))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	slog.Info("opened sqlite store", "path", path)
	return New(db)
}

// OpenMySQL connects to MySQL and migrates the schema.
func OpenMySQL(cfg MySQLConfig, debug bool) (*Store, error) {
	dsnCfg := mysql.Config{
		User:                 cfg.Username,
		Passwd:               cfg.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DBName:               cfg.Database,
		AllowNativePasswords: true,
		Params: map[string]string{
			"charset":   "utf8mb4",
			"parseTime": "True",
			"loc":       "UTC",
		},
	}

	db, err := gorm.Open(gormmysql.Open(dsnCfg.FormatDSN()), gormConfig(debug))
	if err != nil {
		return nil, fmt.Errorf("open mysql database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	slog.Info("opened mysql store", "addr", dsnCfg.Addr, "database", cfg.Database)
	return New(db)
}

// New wraps an open GORM connection and runs the schema migration.
func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(
		&batchRow{},
		&itemRow{},
		&buildingRow{},
		&roomRow{},
		&facilityRow{},
		&roomFacilityRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps GORM errors onto store sentinels.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, store.ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateBatch writes the batch and its items in one transaction.
func (s *Store) CreateBatch(ctx context.Context, batch *models.ImportBatch, items []*models.ImportItem) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batchToRow(batch)).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		rows := make([]*itemRow, len(items))
		for i, item := range items {
			rows[i] = itemToRow(item)
		}
		return tx.Create(rows).Error
	})
	return translate("create batch", err)
}

// GetBatch loads a batch owned by tenantID.
func (s *Store) GetBatch(ctx context.Context, tenantID, batchID string) (*models.ImportBatch, error) {
	var row batchRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", batchID, tenantID).
		First(&row).Error
	if err != nil {
		return nil, translate("get batch "+batchID, err)
	}
	return row.toModel(), nil
}

// ListBatches returns the tenant's batches, newest first.
func (s *Store) ListBatches(ctx context.Context, tenantID string, limit int) ([]*models.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []batchRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translate("list batches", err)
	}
	return batchesFromRows(rows), nil
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
	var rows []batchRow
	err := s.db.WithContext(ctx).
		Where("status IN ?", names).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("list batches by status", err)
	}
	return batchesFromRows(rows), nil
}

func batchesFromRows(rows []batchRow) []*models.ImportBatch {
	out := make([]*models.ImportBatch, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}

// SaveBatch writes every batch column.
func (s *Store) SaveBatch(ctx context.Context, batch *models.ImportBatch) error {
	return translate("save batch", s.db.WithContext(ctx).Save(batchToRow(batch)).Error)
}

// TransitionBatch is a conditional status update.
func (s *Store) TransitionBatch(ctx context.Context, batchID string, from, to models.BatchStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&batchRow{}).
		Where("id = ? AND status = ?", batchID, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, translate("transition batch", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimStalledBatch is a conditional touch of updated_at.
func (s *Store) ClaimStalledBatch(ctx context.Context, batchID string, staleBefore, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&batchRow{}).
		Where("id = ? AND status IN ? AND updated_at < ?", batchID,
			[]string{string(models.BatchPending), string(models.BatchAnalyzing)}, staleBefore.UTC()).
		Update("updated_at", now.UTC())
	if res.Error != nil {
		return false, translate("claim batch", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListItems returns a batch's items in display order.
func (s *Store) ListItems(ctx context.Context, batchID string) ([]*models.ImportItem, error) {
	var rows []itemRow
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("display_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("list items", err)
	}
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
	var row itemRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND batch_id = ?", itemID, batchID).
		First(&row).Error
	if err != nil {
		return nil, translate("get item "+itemID, err)
	}
	item, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// SaveItem writes every item column.
func (s *Store) SaveItem(ctx context.Context, item *models.ImportItem) error {
	return saveItem(s.db.WithContext(ctx), item)
}

func saveItem(db *gorm.DB, item *models.ImportItem) error {
	return translate("save item", db.Save(itemToRow(item)).Error)
}

// ListBuildings returns up to limit of the tenant's buildings ordered by id.
func (s *Store) ListBuildings(ctx context.Context, tenantID string, limit int) ([]models.Building, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []buildingRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("list buildings", err)
	}
	out := make([]models.Building, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// FindBuilding loads a building owned by tenantID.
func (s *Store) FindBuilding(ctx context.Context, tenantID, buildingID string) (*models.Building, error) {
	return findBuilding(s.db.WithContext(ctx), tenantID, buildingID)
}

func findBuilding(db *gorm.DB, tenantID, buildingID string) (*models.Building, error) {
	var row buildingRow
	err := db.Where("id = ? AND tenant_id = ?", buildingID, tenantID).First(&row).Error
	if err != nil {
		return nil, translate("find building "+buildingID, err)
	}
	b := row.toModel()
	return &b, nil
}

// ListRooms returns the tenant's rooms, oldest first.
func (s *Store) ListRooms(ctx context.Context, tenantID string) ([]models.Room, error) {
	var rows []roomRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("list rooms", err)
	}
	out := make([]models.Room, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// RoomFacilities returns the facilities attached to a room, sorted by code.
func (s *Store) RoomFacilities(ctx context.Context, roomID string) ([]models.Facility, error) {
	var rows []facilityRow
	err := s.db.WithContext(ctx).
		Model(&facilityRow{}).
		Joins("JOIN room_facilities ON room_facilities.facility_id = facilities.id").
		Where("room_facilities.room_id = ?", roomID).
		Order("facilities.code ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("room facilities", err)
	}
	return facilitiesFromRows(rows), nil
}

// Facilities returns the reference list, sorted by code.
func (s *Store) Facilities(ctx context.Context) ([]models.Facility, error) {
	var rows []facilityRow
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&rows).Error; err != nil {
		return nil, translate("list facilities", err)
	}
	return facilitiesFromRows(rows), nil
}

func facilitiesFromRows(rows []facilityRow) []models.Facility {
	out := make([]models.Facility, len(rows))
	for i, r := range rows {
		out[i] = models.Facility{ID: r.ID, Code: r.Code, Name: r.Name, Category: r.Category}
	}
	return out
}

// EnsureFacilities upserts the reference list by code.
func (s *Store) EnsureFacilities(ctx context.Context, facilities []models.Facility) error {
	if len(facilities) == 0 {
		return nil
	}
	rows := make([]facilityRow, len(facilities))
	for i, f := range facilities {
		rows[i] = facilityRow{ID: f.ID, Code: f.Code, Name: f.Name, Category: f.Category}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "category"}),
		}).
		Create(&rows).Error
	return translate("ensure facilities", err)
}

// RunInTx runs fn inside a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// gormTx is a store.Tx over an open GORM transaction. Nested Transaction
// calls become SAVEPOINT / ROLLBACK TO.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (t *gormTx) FindBuilding(ctx context.Context, tenantID, buildingID string) (*models.Building, error) {
	return findBuilding(t.db.WithContext(ctx), tenantID, buildingID)
}

func (t *gormTx) CreateBuilding(ctx context.Context, b *models.Building) error {
	return translate("create building", t.db.WithContext(ctx).Create(buildingToRow(b)).Error)
}

func (t *gormTx) CreateRoom(ctx context.Context, r *models.Room) error {
	return translate("create room", t.db.WithContext(ctx).Create(roomToRow(r)).Error)
}

func (t *gormTx) AttachFacility(ctx context.Context, roomID, facilityID string) error {
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&roomFacilityRow{RoomID: roomID, FacilityID: facilityID}).Error
	return translate("attach facility", err)
}

func (t *gormTx) SaveItem(ctx context.Context, item *models.ImportItem) error {
	return saveItem(t.db.WithContext(ctx), item)
}

func (t *gormTx) SaveBatch(ctx context.Context, batch *models.ImportBatch) error {
	return translate("save batch", t.db.WithContext(ctx).Save(batchToRow(batch)).Error)
}
