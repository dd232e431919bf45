package models

import "time"

// Building is a registered property.
type Building struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Address      string     `json:"address"`
	BuildingType string     `json:"building_type,omitempty"`
	Structure    string     `json:"structure,omitempty"`
	Floors       *int       `json:"floors,omitempty"`
	Units        *int       `json:"units,omitempty"`
	BuiltOn      *time.Time `json:"built_on,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	SourceItemID string     `json:"source_item_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Room is a unit inside a building.
type Room struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	BuildingID    string    `json:"building_id"`
	RoomNumber    string    `json:"room_number,omitempty"`
	Floor         *int      `json:"floor,omitempty"`
	RoomType      string    `json:"room_type,omitempty"`
	AreaSqm       *float64  `json:"area_sqm,omitempty"`
	Rent          *int      `json:"rent,omitempty"`
	ManagementFee *int      `json:"management_fee,omitempty"`
	Deposit       *int      `json:"deposit,omitempty"`
	KeyMoney      *int      `json:"key_money,omitempty"`
	Orientation   string    `json:"orientation,omitempty"`
	DocumentRef   string    `json:"document_ref,omitempty"`
	ThumbnailRef  string    `json:"thumbnail_ref,omitempty"`
	SourceItemID  string    `json:"source_item_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Facility is an entry of the facility reference list.
type Facility struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}
