package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Booking statuses. A booking is active for availability purposes in any
// status except cancelled.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusPending:   true,
	StatusConfirmed: true,
	StatusCompleted: true,
	StatusNoShow:    true,
	StatusCancelled: true,
}

// allowedTransitions maps a booking status to the statuses it may move to.
// Completed, no_show and cancelled are terminal.
var allowedTransitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCompleted, StatusNoShow, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusCancelled},
	StatusCompleted: {},
	StatusNoShow:    {},
	StatusCancelled: {},
}

func canTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Slot is a weekly recurring appointment window published by a doctor.
// Weekday uses ISO numbering, 1 (Monday) through 7 (Sunday). StartTime is
// a zero-padded "HH:MM" clock so string comparison orders correctly.
type Slot struct {
	ID              uuid.UUID `db:"id" json:"id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Weekday         int       `db:"weekday" json:"weekday"`
	StartTime       string    `db:"start_time" json:"start_time"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	IsAvailable     bool      `db:"is_available" json:"is_available"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EndTime returns the slot's end clock as "HH:MM", derived from the start
// time and duration. It returns "" if the start time does not parse.
func (s *Slot) EndTime() string {
	start, err := parseClock(s.StartTime)
	if err != nil {
		return ""
	}
	return formatClock(start + s.DurationMinutes)
}

// Booking is a patient's claim on one concrete occurrence of a slot.
type Booking struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	SlotID             uuid.UUID  `db:"slot_id" json:"slot_id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentDate    time.Time  `db:"appointment_date" json:"appointment_date"`
	Reason             *string    `db:"reason" json:"reason,omitempty"`
	Status             string     `db:"status" json:"status"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

func (b *Booking) Cancelled() bool { return b.Status == StatusCancelled }

// Active reports whether the booking still counts against slot availability.
func (b *Booking) Active() bool { return b.Status != StatusCancelled }

// parseClock converts a "HH:MM" clock to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// normalizeClock re-formats a clock value so stored times are always
// zero-padded, keeping the doctor+weekday+start_time uniqueness key stable.
func normalizeClock(s string) (string, error) {
	m, err := parseClock(s)
	if err != nil {
		return "", err
	}
	return formatClock(m), nil
}

func formatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// isoWeekday maps Go's Sunday-based weekday to ISO numbering where
// Monday is 1 and Sunday is 7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
