package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemStatus is the flat name of an item's state, as stored and reported.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemAnalyzing  ItemStatus = "analyzing"
	ItemAnalyzed   ItemStatus = "analyzed"
	ItemRegistered ItemStatus = "registered"
	ItemError      ItemStatus = "error"
)

// FailureStage tells where an item failed.
type FailureStage string

const (
	StageUpload       FailureStage = "upload"
	StageAnalysis     FailureStage = "analysis"
	StageRegistration FailureStage = "registration"
)

// ItemState is one of Pending, Analyzing, Analyzed, Registered or Failed.
// Each variant carries only the fields that are meaningful in that state.
type ItemState interface {
	Status() ItemStatus
	itemState()
}

// Pending is the state of a freshly submitted item.
type Pending struct{}

// Analyzing is the state while the analyzer runs.
type Analyzing struct{}

// Analyzed holds analysis output awaiting operator confirmation.
type Analyzed struct {
	Extracted  ExtractedData
	Candidates []MatchCandidate
}

// Registered holds the records an item produced.
type Registered struct {
	Extracted   ExtractedData
	Candidates  []MatchCandidate
	BuildingID  string
	RoomID      string
	NewBuilding bool
}

// Failed is the error state. Extracted and Candidates are kept when the
// failure happened during registration.
type Failed struct {
	Stage      FailureStage
	Message    string
	Extracted  ExtractedData
	Candidates []MatchCandidate
}

func (Pending) Status() ItemStatus    { return ItemPending }
func (Analyzing) Status() ItemStatus  { return ItemAnalyzing }
func (Analyzed) Status() ItemStatus   { return ItemAnalyzed }
func (Registered) Status() ItemStatus { return ItemRegistered }
func (Failed) Status() ItemStatus     { return ItemError }

func (Pending) itemState()    {}
func (Analyzing) itemState()  {}
func (Analyzed) itemState()   {}
func (Registered) itemState() {}
func (Failed) itemState()     {}

// MatchCandidate is a scored suggestion of an existing building.
type MatchCandidate struct {
	BuildingID   string   `json:"building_id"`
	BuildingName string   `json:"building_name"`
	Address      string   `json:"address"`
	Score        float64  `json:"score"`
	Reasons      []string `json:"reasons"`
}

// ImportItem is one document inside a batch.
type ImportItem struct {
	ID                 string
	BatchID            string
	DisplayOrder       int
	Filename           string
	ContentType        string
	SizeBytes          int64
	DocumentRef        string
	State              ItemState
	EditedData         ExtractedData
	SelectedBuildingID *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewItem creates a pending item.
func NewItem(id, batchID string, order int, filename, contentType string, size int64, now time.Time) *ImportItem {
	return &ImportItem{
		ID:           id,
		BatchID:      batchID,
		DisplayOrder: order,
		Filename:     filename,
		ContentType:  contentType,
		SizeBytes:    size,
		State:        Pending{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Status returns the flat status of the current state.
func (i *ImportItem) Status() ItemStatus {
	if i.State == nil {
		return ItemPending
	}
	return i.State.Status()
}

// Extracted returns analysis output when the state carries it.
func (i *ImportItem) Extracted() ExtractedData {
	switch s := i.State.(type) {
	case Analyzed:
		return s.Extracted
	case Registered:
		return s.Extracted
	case Failed:
		return s.Extracted
	}
	return nil
}

// Candidates returns match candidates when the state carries them.
func (i *ImportItem) Candidates() []MatchCandidate {
	switch s := i.State.(type) {
	case Analyzed:
		return s.Candidates
	case Registered:
		return s.Candidates
	case Failed:
		return s.Candidates
	}
	return nil
}

// ErrorMessage returns the failure message, or "" when not failed.
func (i *ImportItem) ErrorMessage() string {
	if f, ok := i.State.(Failed); ok {
		return f.Message
	}
	return ""
}

// EffectiveData is the extracted data with operator edits applied.
func (i *ImportItem) EffectiveData() ExtractedData {
	return Merge(i.Extracted(), i.EditedData)
}

// Clone returns a copy that can be mutated without touching i.
func (i *ImportItem) Clone() *ImportItem {
	c := *i
	c.EditedData = i.EditedData.Clone()
	if i.SelectedBuildingID != nil {
		id := *i.SelectedBuildingID
		c.SelectedBuildingID = &id
	}
	return &c
}

func (i *ImportItem) invalid(to ItemStatus) error {
	return fmt.Errorf("%w: item %s from %s to %s", ErrInvalidTransition, i.ID, i.Status(), to)
}

// BeginAnalysis moves a pending item into analysis.
func (i *ImportItem) BeginAnalysis(now time.Time) error {
	if i.Status() != ItemPending {
		return i.invalid(ItemAnalyzing)
	}
	i.State = Analyzing{}
	i.UpdatedAt = now
	return nil
}

// CompleteAnalysis stores analysis output.
func (i *ImportItem) CompleteAnalysis(data ExtractedData, candidates []MatchCandidate, now time.Time) error {
	if i.Status() != ItemAnalyzing {
		return i.invalid(ItemAnalyzed)
	}
	if candidates == nil {
		candidates = []MatchCandidate{}
	}
	i.State = Analyzed{Extracted: data, Candidates: candidates}
	i.UpdatedAt = now
	return nil
}

// FailAnalysis records an analyzer fault.
func (i *ImportItem) FailAnalysis(message string, now time.Time) error {
	if i.Status() != ItemAnalyzing {
		return i.invalid(ItemError)
	}
	i.State = Failed{Stage: StageAnalysis, Message: message}
	i.UpdatedAt = now
	return nil
}

// FailUpload records a pending item whose document cannot be used.
func (i *ImportItem) FailUpload(message string, now time.Time) error {
	if i.Status() != ItemPending {
		return i.invalid(ItemError)
	}
	i.State = Failed{Stage: StageUpload, Message: message}
	i.UpdatedAt = now
	return nil
}

// MarkRegistered records the building and room an analyzed item produced.
func (i *ImportItem) MarkRegistered(buildingID, roomID string, newBuilding bool, now time.Time) error {
	s, ok := i.State.(Analyzed)
	if !ok {
		return i.invalid(ItemRegistered)
	}
	i.State = Registered{
		Extracted:   s.Extracted,
		Candidates:  s.Candidates,
		BuildingID:  buildingID,
		RoomID:      roomID,
		NewBuilding: newBuilding,
	}
	i.UpdatedAt = now
	return nil
}

// FailRegistration records a rolled-back commit. The extracted data is kept.
func (i *ImportItem) FailRegistration(message string, now time.Time) error {
	s, ok := i.State.(Analyzed)
	if !ok {
		return i.invalid(ItemError)
	}
	i.State = Failed{Stage: StageRegistration, Message: message, Extracted: s.Extracted, Candidates: s.Candidates}
	i.UpdatedAt = now
	return nil
}

// Edit merges operator overrides into the edited data. Only analyzed items
// accept edits; the status does not change.
func (i *ImportItem) Edit(overrides ExtractedData, now time.Time) error {
	if i.Status() != ItemAnalyzed {
		return fmt.Errorf("%w: item %s is %s and cannot be edited", ErrInvalidTransition, i.ID, i.Status())
	}
	if len(overrides) == 0 {
		return nil
	}
	i.EditedData = Merge(i.EditedData, overrides)
	i.UpdatedAt = now
	return nil
}

// SelectBuilding sets or clears (nil) the building the item should attach to.
func (i *ImportItem) SelectBuilding(buildingID *string, now time.Time) error {
	if i.Status() != ItemAnalyzed {
		return fmt.Errorf("%w: item %s is %s and cannot be edited", ErrInvalidTransition, i.ID, i.Status())
	}
	if buildingID != nil && *buildingID == "" {
		buildingID = nil
	}
	i.SelectedBuildingID = buildingID
	i.UpdatedAt = now
	return nil
}

// ItemFields is the flat form of an item, used for storage rows and JSON.
type ItemFields struct {
	ID                 string           `json:"id"`
	BatchID            string           `json:"batch_id"`
	DisplayOrder       int              `json:"display_order"`
	Filename           string           `json:"filename"`
	ContentType        string           `json:"content_type"`
	SizeBytes          int64            `json:"size_bytes"`
	DocumentRef        string           `json:"document_ref,omitempty"`
	Status             ItemStatus       `json:"status"`
	ExtractedData      ExtractedData    `json:"extracted_data,omitempty"`
	Candidates         []MatchCandidate `json:"candidates,omitempty"`
	EditedData         ExtractedData    `json:"edited_data,omitempty"`
	SelectedBuildingID *string          `json:"selected_building_id,omitempty"`
	BuildingID         string           `json:"building_id,omitempty"`
	RoomID             string           `json:"room_id,omitempty"`
	NewBuilding        bool             `json:"new_building,omitempty"`
	ErrorStage         FailureStage     `json:"error_stage,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Fields flattens the item.
func (i *ImportItem) Fields() ItemFields {
	f := ItemFields{
		ID:                 i.ID,
		BatchID:            i.BatchID,
		DisplayOrder:       i.DisplayOrder,
		Filename:           i.Filename,
		ContentType:        i.ContentType,
		SizeBytes:          i.SizeBytes,
		DocumentRef:        i.DocumentRef,
		Status:             i.Status(),
		EditedData:         i.EditedData,
		SelectedBuildingID: i.SelectedBuildingID,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
	}
	switch s := i.State.(type) {
	case Analyzed:
		f.ExtractedData, f.Candidates = s.Extracted, s.Candidates
	case Registered:
		f.ExtractedData, f.Candidates = s.Extracted, s.Candidates
		f.BuildingID, f.RoomID, f.NewBuilding = s.BuildingID, s.RoomID, s.NewBuilding
	case Failed:
		f.ExtractedData, f.Candidates = s.Extracted, s.Candidates
		f.ErrorStage, f.ErrorMessage = s.Stage, s.Message
	}
	return f
}

// ItemFromFields rebuilds an item, rejecting rows whose fields contradict
// their status.
func ItemFromFields(f ItemFields) (*ImportItem, error) {
	item := &ImportItem{
		ID:                 f.ID,
		BatchID:            f.BatchID,
		DisplayOrder:       f.DisplayOrder,
		Filename:           f.Filename,
		ContentType:        f.ContentType,
		SizeBytes:          f.SizeBytes,
		DocumentRef:        f.DocumentRef,
		EditedData:         f.EditedData,
		SelectedBuildingID: f.SelectedBuildingID,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
	hasError := f.ErrorMessage != "" || f.ErrorStage != ""
	hasRecords := f.BuildingID != "" || f.RoomID != ""
	switch f.Status {
	case ItemPending, ItemAnalyzing:
		if hasError || hasRecords || f.ExtractedData != nil {
			return nil, fmt.Errorf("item %s: %s row carries results", f.ID, f.Status)
		}
		if f.Status == ItemPending {
			item.State = Pending{}
		} else {
			item.State = Analyzing{}
		}
	case ItemAnalyzed:
		if hasError || hasRecords {
			return nil, fmt.Errorf("item %s: analyzed row carries error or records", f.ID)
		}
		item.State = Analyzed{Extracted: f.ExtractedData, Candidates: nonNil(f.Candidates)}
	case ItemRegistered:
		if hasError || f.RoomID == "" || f.BuildingID == "" {
			return nil, fmt.Errorf("item %s: registered row without records", f.ID)
		}
		item.State = Registered{
			Extracted:   f.ExtractedData,
			Candidates:  nonNil(f.Candidates),
			BuildingID:  f.BuildingID,
			RoomID:      f.RoomID,
			NewBuilding: f.NewBuilding,
		}
	case ItemError:
		if hasRecords || f.ErrorMessage == "" {
			return nil, fmt.Errorf("item %s: error row without message", f.ID)
		}
		stage := f.ErrorStage
		if stage == "" {
			stage = StageAnalysis
		}
		item.State = Failed{Stage: stage, Message: f.ErrorMessage, Extracted: f.ExtractedData, Candidates: f.Candidates}
	default:
		return nil, fmt.Errorf("item %s: unknown status %q", f.ID, f.Status)
	}
	return item, nil
}

func nonNil(c []MatchCandidate) []MatchCandidate {
	if c == nil {
		return []MatchCandidate{}
	}
	return c
}

// MarshalJSON renders the flat form.
func (i *ImportItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Fields())
}

// UnmarshalJSON parses the flat form.
func (i *ImportItem) UnmarshalJSON(data []byte) error {
	var f ItemFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	item, err := ItemFromFields(f)
	if err != nil {
		return err
	}
	*i = *item
	return nil
}
