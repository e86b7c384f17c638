package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileError_Error(t *testing.T) {
	err := newMalformedError(EventTypeIdentify, "unparseable label", errors.New("no separator"))
	assert.Equal(t, "MALFORMED_PAYLOAD: unparseable label (event=identify): no separator", err.Error())

	bare := &ReconcileError{Code: ErrCodeUnknownEvent, Message: "unknown event type: 99", Event: EventType(99)}
	assert.NotContains(t, bare.Error(), ": <nil>")
}

func TestReconcileError_Helpers(t *testing.T) {
	cause := errors.New("disk full")
	merge := &ReconcileError{Code: ErrCodeMergeFailed, Event: EventTypeUpdate, Err: cause}
	malformed := newMalformedError(EventTypeUpdate, "not an array", nil)

	tests := []struct {
		name          string
		err           error
		wantMalformed bool
		wantMerge     bool
	}{
		{"malformed", malformed, true, false},
		{"wrapped malformed", fmt.Errorf("ctx: %w", malformed), true, false},
		{"merge", merge, false, true},
		{"plain", cause, false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMalformed, IsMalformedError(tt.err))
			assert.Equal(t, tt.wantMerge, IsMergeError(tt.err))
		})
	}

	assert.ErrorIs(t, merge, cause)
}
