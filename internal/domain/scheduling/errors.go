package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSlotNotFound      = errors.New("slot not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrDuplicateSlot     = errors.New("a slot already exists for this doctor at this weekday and time")
	ErrDuplicateBooking  = errors.New("patient already has an active booking for this slot")
	ErrSlotHasBooking    = errors.New("slot has an active booking")
	ErrInvalidTransition = errors.New("booking status transition not allowed")
	ErrForbidden         = errors.New("permission denied")
)

// ValidationError carries field-keyed messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}
