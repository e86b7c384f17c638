package engine

import (
	"errors"
	"fmt"
)

// ReconcileError represents a push message the engine could not apply.
//
// Reconcile errors are logged and the message is dropped; they never stop
// the Run loop and never leave the catalog half-updated.
type ReconcileError struct {
	// Code identifies the error category.
	Code ReconcileErrorCode

	// Message is a human-readable description.
	Message string

	// Event is the type of the offending event.
	Event EventType

	// Err is the underlying cause, if any.
	Err error
}

// ReconcileErrorCode categorizes reconcile errors.
type ReconcileErrorCode string

const (
	// ErrCodeMalformedPayload indicates a payload that could not be decoded:
	// a non-array update, a non-string label or a label without separator.
	ErrCodeMalformedPayload ReconcileErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeUnknownEvent indicates an event type the engine does not handle.
	ErrCodeUnknownEvent ReconcileErrorCode = "UNKNOWN_EVENT"

	// ErrCodeMergeFailed indicates a merge whose durable write failed. The
	// in-memory merge stands.
	ErrCodeMergeFailed ReconcileErrorCode = "MERGE_FAILED"
)

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.Event)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// IsMalformedError returns true if the error is a malformed payload error.
// Uses errors.As to handle wrapped errors.
func IsMalformedError(err error) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMalformedPayload
	}
	return false
}

// IsMergeError returns true if the error is a failed durable merge.
func IsMergeError(err error) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMergeFailed
	}
	return false
}

func newMalformedError(event EventType, msg string, err error) *ReconcileError {
	return &ReconcileError{Code: ErrCodeMalformedPayload, Message: msg, Event: event, Err: err}
}
