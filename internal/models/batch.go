// Package models defines the import pipeline's domain types and their state machines.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a batch or item is asked to move to a
// state that its lifecycle does not allow from the current one.
var ErrInvalidTransition = errors.New("invalid state transition")

// BatchStatus is the lifecycle phase of an import batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchAnalyzing  BatchStatus = "analyzing"
	BatchConfirming BatchStatus = "confirming"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// batchTransitions lists the allowed forward moves.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchAnalyzing, BatchFailed},
	BatchAnalyzing:  {BatchConfirming, BatchFailed},
	BatchConfirming: {BatchProcessing},
	BatchProcessing: {BatchCompleted, BatchFailed},
}

// CanTransition reports whether a batch may move from one status to another.
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// LogLevel classifies a batch log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line of a batch's append-only history.
type LogEntry struct {
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Counters aggregates per-batch outcomes. Values only grow, and only through Reduce.
type Counters struct {
	TotalFiles       int `json:"total_files"`
	AnalyzedCount    int `json:"analyzed_count"`
	BuildingsCreated int `json:"buildings_created"`
	BuildingsMatched int `json:"buildings_matched"`
	RoomsCreated     int `json:"rooms_created"`
	ErrorCount       int `json:"error_count"`
}

// ImportBatch is one multi-document submission and its processing history.
type ImportBatch struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenant_id"`
	UserID   string      `json:"user_id"`
	Status   BatchStatus `json:"status"`
	Counters
	Failure     string     `json:"failure,omitempty"`
	Log         []LogEntry `json:"log"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewBatch creates a pending batch expecting total documents.
func NewBatch(id, tenantID, userID string, total int, now time.Time) *ImportBatch {
	return &ImportBatch{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		Status:    BatchPending,
		Counters:  Counters{TotalFiles: total},
		Log:       []LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendLog adds a history line. Entries are never rewritten.
func (b *ImportBatch) AppendLog(level LogLevel, message string, now time.Time) LogEntry {
	entry := LogEntry{Message: message, Level: level, Timestamp: now}
	b.Log = append(b.Log, entry)
	b.UpdatedAt = now
	return entry
}

// LastLog returns the most recent log entry, if any.
func (b *ImportBatch) LastLog() (LogEntry, bool) {
	if len(b.Log) == 0 {
		return LogEntry{}, false
	}
	return b.Log[len(b.Log)-1], true
}

func (b *ImportBatch) transition(to BatchStatus, now time.Time) error {
	if !b.Status.CanTransition(to) {
		return fmt.Errorf("%w: batch %s from %s to %s", ErrInvalidTransition, b.ID, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// BeginAnalysis moves a pending batch into analysis.
func (b *ImportBatch) BeginAnalysis(now time.Time) error {
	if err := b.transition(BatchAnalyzing, now); err != nil {
		return err
	}
	b.StartedAt = &now
	b.AppendLog(LogInfo, fmt.Sprintf("analysis started for %d documents", b.TotalFiles), now)
	return nil
}

// FinishAnalysis moves the batch to confirming once every item is analyzed or failed.
func (b *ImportBatch) FinishAnalysis(now time.Time) error {
	if err := b.transition(BatchConfirming, now); err != nil {
		return err
	}
	failed := b.ErrorCount
	b.AppendLog(LogInfo, fmt.Sprintf("analysis finished: %d analyzed, %d failed", b.AnalyzedCount-failed, failed), now)
	return nil
}

// BeginRegistration moves a confirming batch into processing.
func (b *ImportBatch) BeginRegistration(now time.Time) error {
	if err := b.transition(BatchProcessing, now); err != nil {
		return err
	}
	b.AppendLog(LogInfo, "registration started", now)
	return nil
}

// Complete closes a processing batch regardless of per-item failures.
func (b *ImportBatch) Complete(now time.Time) error {
	if err := b.transition(BatchCompleted, now); err != nil {
		return err
	}
	b.CompletedAt = &now
	b.AppendLog(LogInfo, fmt.Sprintf("registration completed: %d rooms created, %d buildings created, %d buildings matched",
		b.RoomsCreated, b.BuildingsCreated, b.BuildingsMatched), now)
	return nil
}

// Fail records a top-level fault and closes the batch.
func (b *ImportBatch) Fail(reason string, now time.Time) error {
	if err := b.transition(BatchFailed, now); err != nil {
		return err
	}
	b.Failure = reason
	b.CompletedAt = &now
	b.AppendLog(LogError, "batch failed: "+reason, now)
	return nil
}

// Apply folds an item outcome into the batch counters.
func (b *ImportBatch) Apply(event BatchEvent) error {
	next, err := Reduce(b.Counters, event)
	if err != nil {
		return fmt.Errorf("batch %s: %w", b.ID, err)
	}
	b.Counters = next
	return nil
}
