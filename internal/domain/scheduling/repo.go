package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotRepository persists recurring slots.
type SlotRepository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, onlyAvailable bool, limit, offset int) ([]*Slot, int, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
	// Delete removes a slot only while it has no active booking and
	// returns ErrSlotHasBooking otherwise.
	Delete(ctx context.Context, id uuid.UUID) error
}

// BookingRepository persists bookings.
type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Booking, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Booking, int, error)
	CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error)
	ActiveExistsForPatient(ctx context.Context, slotID, patientID uuid.UUID) (bool, error)
	ListActiveEvents(ctx context.Context, from, to time.Time) ([]BookingEvent, error)
}
