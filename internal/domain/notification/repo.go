package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationRepository persists notification rows.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	// MarkRead stamps read_at and returns the row. The recipient scope is
	// part of the lookup, so another user's notification reads as missing.
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error)
}

// ReminderRepository persists reminder rows.
type ReminderRepository interface {
	Create(ctx context.Context, r *Reminder) error
	PendingExists(ctx context.Context, bookingID, recipientID uuid.UUID) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	Update(ctx context.Context, r *Reminder) error
	// CancelPendingByBooking voids every pending reminder for a booking
	// and returns how many were cancelled.
	CancelPendingByBooking(ctx context.Context, bookingID uuid.UUID) (int, error)
}
