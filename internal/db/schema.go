package db

// Table names, in deletion order.
const (
	tableRoomFacility = "room_facility"
	tableRoom         = "room"
	tableBuilding     = "building"
	tableFacility     = "facility"
	tableItem         = "import_item"
	tableBatch        = "import_batch"
)

var allTables = []string{tableRoomFacility, tableRoom, tableBuilding, tableFacility, tableItem, tableBatch}

// SchemaSQL contains the database schema initialization SQL.
// Document-shaped fields (extracted data, candidates, batch log) are stored
// as JSON strings so every store decodes them the same way.
const SchemaSQL = `
    -- ==========================================================================
    -- IMPORT BATCHES AND ITEMS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS import_batch SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS import_batch_tenant ON import_batch FIELDS tenant_id, created_at;
    DEFINE INDEX IF NOT EXISTS import_batch_status ON import_batch FIELDS status;

    DEFINE TABLE IF NOT EXISTS import_item SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS import_item_batch ON import_item FIELDS batch_id, display_order;

    -- ==========================================================================
    -- REGISTERED RECORDS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS building SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS building_tenant ON building FIELDS tenant_id;

    DEFINE TABLE IF NOT EXISTS room SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS room_tenant ON room FIELDS tenant_id, created_at;
    DEFINE INDEX IF NOT EXISTS room_building ON room FIELDS building_id;

    -- ==========================================================================
    -- FACILITY REFERENCE LIST
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS facility SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS facility_code ON facility FIELDS code UNIQUE;

    -- Join rows are keyed [room_id, facility_id] so attaching twice is a no-op.
    DEFINE TABLE IF NOT EXISTS room_facility SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS room_facility_room ON room_facility FIELDS room_id;
`
