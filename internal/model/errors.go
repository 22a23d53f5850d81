package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown session hashes, questions and evaluations.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a concurrent request already recorded the same step.
	ErrConflict = errors.New("conflicting concurrent update")
)

// ValidationReason says why an answer was rejected.
type ValidationReason string

const (
	ReasonCompleted      ValidationReason = "completed"
	ReasonOutOfSequence  ValidationReason = "out_of_sequence"
	ReasonInvalidAnswer  ValidationReason = "invalid_answer"
	ReasonMissingName    ValidationReason = "missing_name"
	ReasonInvalidRequest ValidationReason = "invalid_request"
)

// ValidationError is a recoverable, user-facing rejection. No state was mutated.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// NewValidationError builds a ValidationError.
func NewValidationError(reason ValidationReason, detail string) *ValidationError {
	return &ValidationError{Reason: reason, Detail: detail}
}

// IsValidation reports whether err is a ValidationError, optionally of the given reason.
func IsValidation(err error, reasons ...ValidationReason) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	if len(reasons) == 0 {
		return true
	}
	for _, r := range reasons {
		if ve.Reason == r {
			return true
		}
	}
	return false
}

// SequencingFault means a session's next order has no question row.
// It indicates broken invariants and is never user-recoverable.
type SequencingFault struct {
	SessionID    int64
	EvaluationID int64
	Order        int
}

func (e *SequencingFault) Error() string {
	return fmt.Sprintf("sequencing fault: session %d expects order %d, missing in evaluation %d",
		e.SessionID, e.Order, e.EvaluationID)
}
