package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/store"
	"github.com/raphaelgruber/floorplan-import/internal/vocabulary"
)

// ThumbnailRenderer rasterizes the first page of a PDF.
type ThumbnailRenderer interface {
	RenderFirstPage(ctx context.Context, pdf []byte) ([]byte, error)
}

// Outcome is what one committed item produced.
type Outcome struct {
	BuildingID  string
	RoomID      string
	NewBuilding bool
	Facilities  int
}

// Committer turns one analyzed item into building, room and facility records.
type Committer struct {
	vocab      *vocabulary.Vocabulary
	catalog    *FacilityCatalog
	blobs      blob.Store
	thumbnails ThumbnailRenderer
	metrics    *metrics.Collector
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// Commit writes the item's records through tx and marks the item registered.
// It must run inside a savepoint: on error some writes may already be
// buffered and the caller discards them by rolling the savepoint back.
func (c *Committer) Commit(ctx context.Context, tx store.Tx, batch *models.ImportBatch, item *models.ImportItem) (*Outcome, error) {
	data := item.EffectiveData()
	bdata := data.Section(models.SectionBuilding)
	rdata := data.Section(models.SectionRoom)
	now := c.now()

	out := &Outcome{}
	var buildingName string
	if item.SelectedBuildingID == nil {
		b := c.newBuilding(batch.TenantID, item.ID, bdata, now)
		if err := tx.CreateBuilding(ctx, b); err != nil {
			return nil, fmt.Errorf("create building: %w", err)
		}
		out.BuildingID, out.NewBuilding, buildingName = b.ID, true, b.Name
	} else {
		b, err := tx.FindBuilding(ctx, batch.TenantID, *item.SelectedBuildingID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("selected building %s does not exist", *item.SelectedBuildingID)
		}
		if err != nil {
			return nil, fmt.Errorf("find building: %w", err)
		}
		out.BuildingID, buildingName = b.ID, b.Name
	}

	room := c.newRoom(batch.TenantID, out.BuildingID, item, rdata, now)
	room.ThumbnailRef = c.thumbnail(ctx, item)
	if err := tx.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	out.RoomID = room.ID

	attached, err := c.attachFacilities(ctx, tx, room.ID, data.Strings(models.SectionFacilities))
	if err != nil {
		return nil, err
	}
	out.Facilities = attached

	if err := item.MarkRegistered(out.BuildingID, out.RoomID, out.NewBuilding, now); err != nil {
		return nil, err
	}
	if err := tx.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}

	verb := "matched"
	if out.NewBuilding {
		verb = "created"
	}
	batch.AppendLog(models.LogInfo, fmt.Sprintf("%s: registered room %s in %s building %q",
		item.Filename, displayRoom(room), verb, buildingName), now)
	return out, nil
}

// newBuilding builds a record from whatever building fields are present;
// none of them is required.
func (c *Committer) newBuilding(tenantID, itemID string, d models.ExtractedData, now time.Time) *models.Building {
	return &models.Building{
		ID:           c.newID(),
		TenantID:     tenantID,
		Name:         d.String("name"),
		Address:      d.String("address"),
		BuildingType: d.String("building_type"),
		Structure:    d.String("structure"),
		Floors:       optInt(d, "floors"),
		Units:        optInt(d, "units"),
		BuiltOn:      parseBuiltOn(d.String("built_on")),
		Latitude:     optFloat(d, "latitude"),
		Longitude:    optFloat(d, "longitude"),
		SourceItemID: itemID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Committer) newRoom(tenantID, buildingID string, item *models.ImportItem, d models.ExtractedData, now time.Time) *models.Room {
	roomType := d.String("room_type")
	if c.vocab != nil {
		roomType = c.vocab.RoomType(roomType)
	}
	return &models.Room{
		ID:            c.newID(),
		TenantID:      tenantID,
		BuildingID:    buildingID,
		RoomNumber:    d.String("room_number"),
		Floor:         optInt(d, "floor"),
		RoomType:      roomType,
		AreaSqm:       optFloat(d, "area_sqm"),
		Rent:          optInt(d, "rent"),
		ManagementFee: optInt(d, "management_fee"),
		Deposit:       optInt(d, "deposit"),
		KeyMoney:      optInt(d, "key_money"),
		Orientation:   d.String("orientation"),
		DocumentRef:   item.DocumentRef,
		SourceItemID:  item.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// thumbnail renders and stores a preview, returning its key. Failures are
// logged and yield "".
func (c *Committer) thumbnail(ctx context.Context, item *models.ImportItem) string {
	if c.thumbnails == nil || item.DocumentRef == "" {
		return ""
	}
	start := time.Now()
	pdf, err := c.blobs.Get(ctx, item.DocumentRef)
	if err != nil {
		c.logger.Warn("thumbnail skipped: document unreadable", "item_id", item.ID, "error", err)
		return ""
	}
	png, err := c.thumbnails.RenderFirstPage(ctx, pdf)
	if err != nil {
		c.metrics.RecordError(metrics.OpThumbnail)
		c.logger.Warn("thumbnail render failed", "item_id", item.ID, "error", err)
		return ""
	}
	key := blob.ThumbnailKey(item.DocumentRef)
	if err := c.blobs.Put(ctx, key, png); err != nil {
		c.metrics.RecordError(metrics.OpThumbnail)
		c.logger.Warn("thumbnail store failed", "item_id", item.ID, "error", err)
		return ""
	}
	c.metrics.RecordTiming(metrics.OpThumbnail, time.Since(start))
	return key
}

func (c *Committer) attachFacilities(ctx context.Context, tx store.Tx, roomID string, codes []string) (int, error) {
	seen := make(map[string]bool, len(codes))
	attached := 0
	for _, code := range codes {
		f, ok, err := c.catalog.Lookup(ctx, code)
		if err != nil {
			return attached, err
		}
		if !ok {
			c.logger.Debug("unknown facility skipped", "room_id", roomID, "code", code)
			continue
		}
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		if err := tx.AttachFacility(ctx, roomID, f.ID); err != nil {
			return attached, fmt.Errorf("attach facility %s: %w", f.Code, err)
		}
		attached++
	}
	return attached, nil
}

func optInt(d models.ExtractedData, key string) *int {
	if v, ok := d.Int(key); ok {
		return &v
	}
	return nil
}

func optFloat(d models.ExtractedData, key string) *float64 {
	if v, ok := d.Float(key); ok {
		return &v
	}
	return nil
}

var builtOnLayouts = []string{"2006-01-02", "2006-01", "2006/01/02", "2006/01", "2006"}

// parseBuiltOn reads the construction date; unparseable values yield nil.
func parseBuiltOn(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range builtOnLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func displayRoom(r *models.Room) string {
	if r.RoomNumber != "" {
		return r.RoomNumber
	}
	return r.ID
}
