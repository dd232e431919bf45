package sqlstore

import (
	"time"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// batchRow is the import_batches table.
type batchRow struct {
	ID               string            `gorm:"primaryKey;size:36"`
	TenantID         string            `gorm:"size:64;not null;index:idx_import_batches_tenant_created,priority:1"`
	UserID           string            `gorm:"size:64"`
	Status           string            `gorm:"size:20;not null;index"`
	TotalFiles       int               `gorm:"not null"`
	AnalyzedCount    int               `gorm:"not null"`
	BuildingsCreated int               `gorm:"not null"`
	BuildingsMatched int               `gorm:"not null"`
	RoomsCreated     int               `gorm:"not null"`
	ErrorCount       int               `gorm:"not null"`
	Failure          string            `gorm:"type:text"`
	Log              []models.LogEntry `gorm:"serializer:json;type:longtext"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time `gorm:"index:idx_import_batches_tenant_created,priority:2"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

// TableName returns the table name for GORM.
func (batchRow) TableName() string {
	return "import_batches"
}

func batchToRow(b *models.ImportBatch) *batchRow {
	return &batchRow{
		ID:               b.ID,
		TenantID:         b.TenantID,
		UserID:           b.UserID,
		Status:           string(b.Status),
		TotalFiles:       b.TotalFiles,
		AnalyzedCount:    b.AnalyzedCount,
		BuildingsCreated: b.BuildingsCreated,
		BuildingsMatched: b.BuildingsMatched,
		RoomsCreated:     b.RoomsCreated,
		ErrorCount:       b.ErrorCount,
		Failure:          b.Failure,
		Log:              b.Log,
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func (r *batchRow) toModel() *models.ImportBatch {
	log := r.Log
	if log == nil {
		log = []models.LogEntry{}
	}
	return &models.ImportBatch{
		ID:       r.ID,
		TenantID: r.TenantID,
		UserID:   r.UserID,
		Status:   models.BatchStatus(r.Status),
		Counters: models.Counters{
			TotalFiles:       r.TotalFiles,
			AnalyzedCount:    r.AnalyzedCount,
			BuildingsCreated: r.BuildingsCreated,
			BuildingsMatched: r.BuildingsMatched,
			RoomsCreated:     r.RoomsCreated,
			ErrorCount:       r.ErrorCount,
		},
		Failure:     r.Failure,
		Log:         log,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// itemRow is the import_items table. The tagged item state is flattened
// into status, result and error columns.
type itemRow struct {
	ID                 string                  `gorm:"primaryKey;size:36"`
	BatchID            string                  `gorm:"size:36;not null;index:idx_import_items_batch_order,priority:1"`
	DisplayOrder       int                     `gorm:"not null;index:idx_import_items_batch_order,priority:2"`
	Filename           string                  `gorm:"size:255"`
	ContentType        string                  `gorm:"size:100"`
	SizeBytes          int64                   `gorm:"not null"`
	DocumentRef        string                  `gorm:"size:512"`
	Status             string                  `gorm:"size:20;not null"`
	ExtractedData      models.ExtractedData    `gorm:"serializer:json;type:longtext"`
	Candidates         []models.MatchCandidate `gorm:"serializer:json;type:longtext"`
	EditedData         models.ExtractedData    `gorm:"serializer:json;type:longtext"`
	SelectedBuildingID *string                 `gorm:"size:36"`
	BuildingID         string                  `gorm:"size:36"`
	RoomID             string                  `gorm:"size:36"`
	NewBuilding        bool
	ErrorStage         string `gorm:"size:20"`
	ErrorMessage       string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false"`
}

// TableName returns the table name for GORM.
func (itemRow) TableName() string {
	return "import_items"
}

func itemToRow(i *models.ImportItem) *itemRow {
	f := i.Fields()
	return &itemRow{
		ID:                 f.ID,
		BatchID:            f.BatchID,
		DisplayOrder:       f.DisplayOrder,
		Filename:           f.Filename,
		ContentType:        f.ContentType,
		SizeBytes:          f.SizeBytes,
		DocumentRef:        f.DocumentRef,
		Status:             string(f.Status),
		ExtractedData:      f.ExtractedData,
		Candidates:         f.Candidates,
		EditedData:         f.EditedData,
		SelectedBuildingID: f.SelectedBuildingID,
		BuildingID:         f.BuildingID,
		RoomID:             f.RoomID,
		NewBuilding:        f.NewBuilding,
		ErrorStage:         string(f.ErrorStage),
		ErrorMessage:       f.ErrorMessage,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

func (r *itemRow) toModel() (*models.ImportItem, error) {
	return models.ItemFromFields(models.ItemFields{
		ID:                 r.ID,
		BatchID:            r.BatchID,
		DisplayOrder:       r.DisplayOrder,
		Filename:           r.Filename,
		ContentType:        r.ContentType,
		SizeBytes:          r.SizeBytes,
		DocumentRef:        r.DocumentRef,
		Status:             models.ItemStatus(r.Status),
		ExtractedData:      r.ExtractedData,
		Candidates:         r.Candidates,
		EditedData:         r.EditedData,
		SelectedBuildingID: r.SelectedBuildingID,
		BuildingID:         r.BuildingID,
		RoomID:             r.RoomID,
		NewBuilding:        r.NewBuilding,
		ErrorStage:         models.FailureStage(r.ErrorStage),
		ErrorMessage:       r.ErrorMessage,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	})
}

// buildingRow is the buildings table.
type buildingRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	TenantID     string `gorm:"size:64;not null;index"`
	Name         string `gorm:"size:255"`
	Address      string `gorm:"size:512"`
	BuildingType string `gorm:"size:50"`
	Structure    string `gorm:"size:50"`
	Floors       *int
	Units        *int
	BuiltOn      *time.Time
	Latitude     *float64
	Longitude    *float64
	SourceItemID string `gorm:"size:36"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

// TableName returns the table name for GORM.
func (buildingRow) TableName() string {
	return "buildings"
}

func buildingToRow(b *models.Building) *buildingRow {
	return &buildingRow{
		ID:           b.ID,
		TenantID:     b.TenantID,
		Name:         b.Name,
		Address:      b.Address,
		BuildingType: b.BuildingType,
		Structure:    b.Structure,
		Floors:       b.Floors,
		Units:        b.Units,
		BuiltOn:      b.BuiltOn,
		Latitude:     b.Latitude,
		Longitude:    b.Longitude,
		SourceItemID: b.SourceItemID,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func (r *buildingRow) toModel() models.Building {
	return models.Building{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Name:         r.Name,
		Address:      r.Address,
		BuildingType: r.BuildingType,
		Structure:    r.Structure,
		Floors:       r.Floors,
		Units:        r.Units,
		BuiltOn:      r.BuiltOn,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		SourceItemID: r.SourceItemID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// roomRow is the rooms table.
type roomRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	TenantID      string `gorm:"size:64;not null;index"`
	BuildingID    string `gorm:"size:36;not null;index"`
	RoomNumber    string `gorm:"size:50"`
	Floor         *int
	RoomType      string `gorm:"size:50"`
	AreaSqm       *float64
	Rent          *int
	ManagementFee *int
	Deposit       *int
	KeyMoney      *int
	Orientation   string `gorm:"size:20"`
	DocumentRef   string `gorm:"size:512"`
	ThumbnailRef  string `gorm:"size:512"`
	SourceItemID  string `gorm:"size:36"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

// TableName returns the table name for GORM.
func (roomRow) TableName() string {
	return "rooms"
}

func roomToRow(r *models.Room) *roomRow {
	return &roomRow{
		ID:            r.ID,
		TenantID:      r.TenantID,
		BuildingID:    r.BuildingID,
		RoomNumber:    r.RoomNumber,
		Floor:         r.Floor,
		RoomType:      r.RoomType,
		AreaSqm:       r.AreaSqm,
		Rent:          r.Rent,
		ManagementFee: r.ManagementFee,
		Deposit:       r.Deposit,
		KeyMoney:      r.KeyMoney,
		Orientation:   r.Orientation,
		DocumentRef:   r.DocumentRef,
		ThumbnailRef:  r.ThumbnailRef,
		SourceItemID:  r.SourceItemID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r *roomRow) toModel() models.Room {
	return models.Room{
		ID:            r.ID,
		TenantID:      r.TenantID,
		BuildingID:    r.BuildingID,
		RoomNumber:    r.RoomNumber,
		Floor:         r.Floor,
		RoomType:      r.RoomType,
		AreaSqm:       r.AreaSqm,
		Rent:          r.Rent,
		ManagementFee: r.ManagementFee,
		Deposit:       r.Deposit,
		KeyMoney:      r.KeyMoney,
		Orientation:   r.Orientation,
		DocumentRef:   r.DocumentRef,
		ThumbnailRef:  r.ThumbnailRef,
		SourceItemID:  r.SourceItemID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// facilityRow is the facilities reference table.
type facilityRow struct {
	ID       string `gorm:"primaryKey;size:36"`
	Code     string `gorm:"size:64;not null;uniqueIndex"`
	Name     string `gorm:"size:255"`
	Category string `gorm:"size:50"`
}

// TableName returns the table name for GORM.
func (facilityRow) TableName() string {
	return "facilities"
}

// roomFacilityRow is the room_facilities join table.
type roomFacilityRow struct {
	RoomID     string `gorm:"primaryKey;size:36"`
	FacilityID string `gorm:"primaryKey;size:36"`
}

// TableName returns the table name for GORM.
func (roomFacilityRow) TableName() string {
	return "room_facilities"
}
