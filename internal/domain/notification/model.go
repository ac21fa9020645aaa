package notification

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrReminderNotFound     = errors.New("reminder not found")
)

// Notification types.
const (
	TypeReminder     = "appointment_reminder"
	TypeConfirmation = "appointment_confirmation"
	TypeCancellation = "appointment_cancellation"
	TypeRescheduled  = "appointment_rescheduled"
	TypeCompleted    = "appointment_completed"
	TypeGeneral      = "general"
)

// Notification statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Delivery methods.
const (
	MethodEmail = "email"
	MethodSMS   = "sms"
	MethodInApp = "in_app"
)

// Reminder statuses. Cancelled reminders belong to bookings that were
// cancelled before the reminder fired.
const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderFailed    = "failed"
	ReminderCancelled = "cancelled"
)

// Notification is a persisted record of a message sent (or attempted) to a
// user, surfaced in their in-app feed.
type Notification struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RecipientID    uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	BookingID      *uuid.UUID `db:"booking_id" json:"booking_id,omitempty"`
	Type           string     `db:"type" json:"type"`
	Subject        string     `db:"subject" json:"subject"`
	Message        string     `db:"message" json:"message"`
	DeliveryMethod string     `db:"delivery_method" json:"delivery_method"`
	Status         string     `db:"status" json:"status"`
	ScheduledTime  *time.Time `db:"scheduled_time" json:"scheduled_time,omitempty"`
	SentTime       *time.Time `db:"sent_time" json:"sent_time,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (n *Notification) Read() bool { return n.ReadAt != nil }

// Reminder is a pending promise to nudge one participant about an upcoming
// appointment. At most one pending reminder exists per booking and
// recipient.
type Reminder struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	BookingID     uuid.UUID  `db:"booking_id" json:"booking_id"`
	RecipientID   uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Status        string     `db:"status" json:"status"`
	SentTime      *time.Time `db:"sent_time" json:"sent_time,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Party is the directory view of a message recipient.
type Party struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Role      string
}

func (p *Party) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
