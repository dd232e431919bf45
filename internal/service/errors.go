package service

import (
	"errors"
	"strings"
)

// Sentinel errors for import operations.
var (
	// ErrInvalidSubmission wraps every submission validation failure.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrBatchNotConfirmable is returned by Register when the batch is not
	// awaiting confirmation, including when another register call won the race.
	ErrBatchNotConfirmable = errors.New("batch is not awaiting confirmation")

	// ErrNothingToRegister is returned when a confirming batch has no analyzed items.
	ErrNothingToRegister = errors.New("batch has no analyzed items to register")

	// ErrItemNotEditable is returned for edits to items that are not analyzed.
	ErrItemNotEditable = errors.New("item is not editable")

	// ErrQueueFull is returned when the analysis queue cannot take another batch.
	ErrQueueFull = errors.New("analysis queue full")

	// ErrShuttingDown is returned when the analysis queue no longer accepts work.
	ErrShuttingDown = errors.New("analysis queue is shutting down")
)

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSubmission
}

// maxMessageRunes bounds error messages stored on items.
const maxMessageRunes = 1000

func truncateMessage(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageRunes {
		return s
	}
	return string(r[:maxMessageRunes-1]) + "…"
}
