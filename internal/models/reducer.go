package models

import (
	"errors"
	"fmt"
)

// ErrCounterOverflow is returned when an event would push analyzed_count past total_files.
var ErrCounterOverflow = errors.New("analyzed count exceeds total files")

// BatchEvent is an item outcome that changes batch counters.
type BatchEvent interface {
	batchEvent()
}

// AnalysisSucceeded records an item that reached analyzed.
type AnalysisSucceeded struct{}

// ItemAnalysisFailed records an item that reached error before registration.
type ItemAnalysisFailed struct{}

// RegistrationSucceeded records a committed item.
type RegistrationSucceeded struct {
	NewBuilding bool
}

// ItemRegistrationFailed records an item whose commit was rolled back.
type ItemRegistrationFailed struct{}

func (AnalysisSucceeded) batchEvent()      {}
func (ItemAnalysisFailed) batchEvent()     {}
func (RegistrationSucceeded) batchEvent()  {}
func (ItemRegistrationFailed) batchEvent() {}

// Reduce returns the counters after event. It never decrements a counter.
func Reduce(c Counters, event BatchEvent) (Counters, error) {
	switch e := event.(type) {
	case AnalysisSucceeded:
		c.AnalyzedCount++
	case ItemAnalysisFailed:
		c.AnalyzedCount++
		c.ErrorCount++
	case RegistrationSucceeded:
		c.RoomsCreated++
		if e.NewBuilding {
			c.BuildingsCreated++
		} else {
			c.BuildingsMatched++
		}
	case ItemRegistrationFailed:
		c.ErrorCount++
	default:
		return c, fmt.Errorf("unknown batch event %T", event)
	}
	if c.AnalyzedCount > c.TotalFiles {
		return c, fmt.Errorf("%w: %d > %d", ErrCounterOverflow, c.AnalyzedCount, c.TotalFiles)
	}
	return c, nil
}
