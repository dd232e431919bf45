package db

import (
	"encoding/json"
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

type batchRecord struct {
	ID               surrealmodels.RecordID `json:"id"`
	TenantID         string                 `json:"tenant_id"`
	UserID           string                 `json:"user_id"`
	Status           string                 `json:"status"`
	TotalFiles       int                    `json:"total_files"`
	AnalyzedCount    int                    `json:"analyzed_count"`
	BuildingsCreated int                    `json:"buildings_created"`
	BuildingsMatched int                    `json:"buildings_matched"`
	RoomsCreated     int                    `json:"rooms_created"`
	ErrorCount       int                    `json:"error_count"`
	Failure          string                 `json:"failure"`
	Log              string                 `json:"log"`
	StartedAt        *time.Time             `json:"started_at"`
	CompletedAt      *time.Time             `json:"completed_at"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func batchContent(b *models.ImportBatch) (map[string]any, error) {
	log, err := encodeJSON(b.Log)
	if err != nil {
		return nil, fmt.Errorf("encode batch log: %w", err)
	}
	return map[string]any{
		"tenant_id":         b.TenantID,
		"user_id":           b.UserID,
		"status":            string(b.Status),
		"total_files":       b.TotalFiles,
		"analyzed_count":    b.AnalyzedCount,
		"buildings_created": b.BuildingsCreated,
		"buildings_matched": b.BuildingsMatched,
		"rooms_created":     b.RoomsCreated,
		"error_count":       b.ErrorCount,
		"failure":           b.Failure,
		"log":               log,
		"started_at":        b.StartedAt,
		"completed_at":      b.CompletedAt,
		"created_at":        b.CreatedAt,
		"updated_at":        b.UpdatedAt,
	}, nil
}

func (r *batchRecord) toModel() (*models.ImportBatch, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	log := []models.LogEntry{}
	if err := decodeJSON(r.Log, &log); err != nil {
		return nil, fmt.Errorf("decode batch log: %w", err)
	}
	return &models.ImportBatch{
		ID:       id,
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
	}, nil
}

type itemRecord struct {
	ID                 surrealmodels.RecordID `json:"id"`
	BatchID            string                 `json:"batch_id"`
	DisplayOrder       int                    `json:"display_order"`
	Filename           string                 `json:"filename"`
	ContentType        string                 `json:"content_type"`
	SizeBytes          int64                  `json:"size_bytes"`
	DocumentRef        string                 `json:"document_ref"`
	Status             string                 `json:"status"`
	ExtractedData      string                 `json:"extracted_data"`
	Candidates         string                 `json:"candidates"`
	EditedData         string                 `json:"edited_data"`
	SelectedBuildingID *string                `json:"selected_building_id"`
	BuildingID         string                 `json:"building_id"`
	RoomID             string                 `json:"room_id"`
	NewBuilding        bool                   `json:"new_building"`
	ErrorStage         string                 `json:"error_stage"`
	ErrorMessage       string                 `json:"error_message"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

func itemContent(i *models.ImportItem) (map[string]any, error) {
	f := i.Fields()
	extracted, err := encodeJSON(f.ExtractedData)
	if err != nil {
		return nil, fmt.Errorf("encode extracted data: %w", err)
	}
	candidates, err := encodeJSON(f.Candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	edited, err := encodeJSON(f.EditedData)
	if err != nil {
		return nil, fmt.Errorf("encode edited data: %w", err)
	}
	return map[string]any{
		"batch_id":             f.BatchID,
		"display_order":        f.DisplayOrder,
		"filename":             f.Filename,
		"content_type":         f.ContentType,
		"size_bytes":           f.SizeBytes,
		"document_ref":         f.DocumentRef,
		"status":               string(f.Status),
		"extracted_data":       extracted,
		"candidates":           candidates,
		"edited_data":          edited,
		"selected_building_id": f.SelectedBuildingID,
		"building_id":          f.BuildingID,
		"room_id":              f.RoomID,
		"new_building":         f.NewBuilding,
		"error_stage":          string(f.ErrorStage),
		"error_message":        f.ErrorMessage,
		"created_at":           f.CreatedAt,
		"updated_at":           f.UpdatedAt,
	}, nil
}

func (r *itemRecord) toModel() (*models.ImportItem, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	f := models.ItemFields{
		ID:                 id,
		BatchID:            r.BatchID,
		DisplayOrder:       r.DisplayOrder,
		Filename:           r.Filename,
		ContentType:        r.ContentType,
		SizeBytes:          r.SizeBytes,
		DocumentRef:        r.DocumentRef,
		Status:             models.ItemStatus(r.Status),
		SelectedBuildingID: r.SelectedBuildingID,
		BuildingID:         r.BuildingID,
		RoomID:             r.RoomID,
		NewBuilding:        r.NewBuilding,
		ErrorStage:         models.FailureStage(r.ErrorStage),
		ErrorMessage:       r.ErrorMessage,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if err := decodeJSON(r.ExtractedData, &f.ExtractedData); err != nil {
		return nil, fmt.Errorf("decode extracted data: %w", err)
	}
	if err := decodeJSON(r.Candidates, &f.Candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if err := decodeJSON(r.EditedData, &f.EditedData); err != nil {
		return nil, fmt.Errorf("decode edited data: %w", err)
	}
	return models.ItemFromFields(f)
}

type buildingRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	Name         string                 `json:"name"`
	Address      string                 `json:"address"`
	BuildingType string                 `json:"building_type"`
	Structure    string                 `json:"structure"`
	Floors       *int                   `json:"floors"`
	Units        *int                   `json:"units"`
	BuiltOn      *time.Time             `json:"built_on"`
	Latitude     *float64               `json:"latitude"`
	Longitude    *float64               `json:"longitude"`
	SourceItemID string                 `json:"source_item_id"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func buildingContent(b *models.Building) map[string]any {
	return map[string]any{
		"tenant_id":      b.TenantID,
		"name":           b.Name,
		"address":        b.Address,
		"building_type":  b.BuildingType,
		"structure":      b.Structure,
		"floors":         b.Floors,
		"units":          b.Units,
		"built_on":       b.BuiltOn,
		"latitude":       b.Latitude,
		"longitude":      b.Longitude,
		"source_item_id": b.SourceItemID,
		"created_at":     b.CreatedAt,
		"updated_at":     b.UpdatedAt,
	}
}

func (r *buildingRecord) toModel() (models.Building, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return models.Building{}, err
	}
	return models.Building{
		ID:           id,
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
	}, nil
}

type roomRecord struct {
	ID            surrealmodels.RecordID `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	BuildingID    string                 `json:"building_id"`
	RoomNumber    string                 `json:"room_number"`
	Floor         *int                   `json:"floor"`
	RoomType      string                 `json:"room_type"`
	AreaSqm       *float64               `json:"area_sqm"`
	Rent          *int                   `json:"rent"`
	ManagementFee *int                   `json:"management_fee"`
	Deposit       *int                   `json:"deposit"`
	KeyMoney      *int                   `json:"key_money"`
	Orientation   string                 `json:"orientation"`
	DocumentRef   string                 `json:"document_ref"`
	ThumbnailRef  string                 `json:"thumbnail_ref"`
	SourceItemID  string                 `json:"source_item_id"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func roomContent(r *models.Room) map[string]any {
	return map[string]any{
		"tenant_id":      r.TenantID,
		"building_id":    r.BuildingID,
		"room_number":    r.RoomNumber,
		"floor":          r.Floor,
		"room_type":      r.RoomType,
		"area_sqm":       r.AreaSqm,
		"rent":           r.Rent,
		"management_fee": r.ManagementFee,
		"deposit":        r.Deposit,
		"key_money":      r.KeyMoney,
		"orientation":    r.Orientation,
		"document_ref":   r.DocumentRef,
		"thumbnail_ref":  r.ThumbnailRef,
		"source_item_id": r.SourceItemID,
		"created_at":     r.CreatedAt,
		"updated_at":     r.UpdatedAt,
	}
}

func (r *roomRecord) toModel() (models.Room, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return models.Room{}, err
	}
	return models.Room{
		ID:            id,
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
	}, nil
}

type facilityRecord struct {
	ID       surrealmodels.RecordID `json:"id"`
	Code     string                 `json:"code"`
	Name     string                 `json:"name"`
	Category string                 `json:"category"`
}

func (r *facilityRecord) toModel() (models.Facility, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return models.Facility{}, err
	}
	return models.Facility{ID: id, Code: r.Code, Name: r.Name, Category: r.Category}, nil
}
