package service

import (
	"sync"
	"time"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// Event types published while a batch moves through the pipeline.
const (
	EventBatchStatus = "batch.status"
	EventItemUpdated = "item.updated"
)

// Event is a progress notification for one batch.
type Event struct {
	Type       string             `json:"type"`
	TenantID   string             `json:"tenant_id"`
	BatchID    string             `json:"batch_id"`
	Status     models.BatchStatus `json:"status"`
	Counters   models.Counters    `json:"counters"`
	ItemID     string             `json:"item_id,omitempty"`
	ItemStatus models.ItemStatus  `json:"item_status,omitempty"`
	Message    string             `json:"message,omitempty"`
	At         time.Time          `json:"at"`
}

// Terminal reports whether the batch can no longer change without operator action.
func (e Event) Terminal() bool {
	return e.Type == EventBatchStatus &&
		(e.Status == models.BatchConfirming || e.Status.IsTerminal())
}

const subscriberBuffer = 64

// EventHub fans batch events out to subscribers. Slow subscribers lose
// events rather than blocking the pipeline.
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for batchID and a cancel function
// that closes it.
func (h *EventHub) Subscribe(batchID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[batchID] == nil {
		h.subs[batchID] = make(map[chan Event]struct{})
	}
	h.subs[batchID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[batchID], ch)
			if len(h.subs[batchID]) == 0 {
				delete(h.subs, batchID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber of its batch.
func (h *EventHub) Publish(e Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[e.BatchID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions for a batch.
func (h *EventHub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[batchID])
}

// StatusEvent describes the batch's current status and counters.
func StatusEvent(b *models.ImportBatch, message string) Event {
	return Event{
		Type:     EventBatchStatus,
		TenantID: b.TenantID,
		BatchID:  b.ID,
		Status:   b.Status,
		Counters: b.Counters,
		Message:  message,
		At:       b.UpdatedAt,
	}
}

func itemEvent(b *models.ImportBatch, item *models.ImportItem, message string) Event {
	return Event{
		Type:       EventItemUpdated,
		TenantID:   b.TenantID,
		BatchID:    b.ID,
		Status:     b.Status,
		Counters:   b.Counters,
		ItemID:     item.ID,
		ItemStatus: item.Status(),
		Message:    message,
		At:         item.UpdatedAt,
	}
}
