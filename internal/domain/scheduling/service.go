package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/lock"
)

// DoctorSchedule is the slice of a doctor's profile that slot validation
// needs: which weekdays they work and the daily window.
type DoctorSchedule struct {
	DoctorID    uuid.UUID
	WorkingDays []int
	WorkStart   string
	WorkEnd     string
}

func (d *DoctorSchedule) worksOn(weekday int) bool {
	for _, wd := range d.WorkingDays {
		if wd == weekday {
			return true
		}
	}
	return false
}

// DoctorDirectory resolves doctors by user id. The identity domain provides
// the implementation; a missing doctor surfaces as ErrDoctorNotFound.
type DoctorDirectory interface {
	DoctorSchedule(ctx context.Context, doctorID uuid.UUID) (*DoctorSchedule, error)
}

// BookingEvent is the flattened view of a booking handed to the Notifier
// and the reminder pipeline, carrying everything notification rendering
// needs without a second lookup.
type BookingEvent struct {
	BookingID          uuid.UUID
	SlotID             uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	AppointmentDate    time.Time
	StartTime          string
	Status             string
	CancellationReason string
}

// Notifier receives booking lifecycle events after the owning transaction
// commits. Implementations must not fail the booking flow; they log and
// absorb their own errors.
type Notifier interface {
	BookingCreated(ctx context.Context, ev BookingEvent)
	BookingConfirmed(ctx context.Context, ev BookingEvent)
	BookingCancelled(ctx context.Context, ev BookingEvent)
	BookingCompleted(ctx context.Context, ev BookingEvent)
}

// Service implements slot publishing and the booking lifecycle.
type Service struct {
	slots    SlotRepository
	bookings BookingRepository
	doctors  DoctorDirectory
	txr      db.TxRunner
	locker   lock.SlotLocker
	notifier Notifier
}

func NewService(
	slots SlotRepository,
	bookings BookingRepository,
	doctors DoctorDirectory,
	txr db.TxRunner,
	locker lock.SlotLocker,
	notifier Notifier,
) *Service {
	return &Service{
		slots:    slots,
		bookings: bookings,
		doctors:  doctors,
		txr:      txr,
		locker:   locker,
		notifier: notifier,
	}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txr == nil {
		return fn(ctx)
	}
	return s.txr.InTx(ctx, fn)
}

func (s *Service) withHold(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithSlotHold(ctx, slotID, fn)
}

type CreateSlotInput struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	Weekday         int       `json:"weekday"`
	StartTime       string    `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

// CreateSlot publishes a recurring slot after checking it against the
// doctor's working days and hours. Doctors may only publish their own
// slots; admins may publish for any doctor.
func (s *Service) CreateSlot(ctx context.Context, actor auth.Actor, in CreateSlotInput) (*Slot, error) {
	doctorID := in.DoctorID
	if doctorID == uuid.Nil {
		doctorID = actor.UserID
	}
	if !actor.CanPublishSlots(doctorID) {
		return nil, ErrForbidden
	}

	verr := &ValidationError{}
	if in.Weekday < 1 || in.Weekday > 7 {
		verr.Add("weekday", "weekday must be between 1 (Monday) and 7 (Sunday)")
	}
	start, err := normalizeClock(in.StartTime)
	if err != nil {
		verr.Add("start_time", "start_time must be a valid time in HH:MM format")
	}
	if in.DurationMinutes <= 0 {
		verr.Add("duration_minutes", "duration_minutes must be a positive number")
	}
	if !verr.Empty() {
		return nil, verr
	}

	sched, err := s.doctors.DoctorSchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !sched.worksOn(in.Weekday) {
		return nil, NewValidationError("weekday", "doctor does not work on this day")
	}
	startMin, _ := parseClock(start)
	workStart, err := parseClock(sched.WorkStart)
	if err != nil {
		return nil, err
	}
	workEnd, err := parseClock(sched.WorkEnd)
	if err != nil {
		return nil, err
	}
	if startMin < workStart || startMin >= workEnd {
		return nil, NewValidationError("start_time", "start_time is outside the doctor's working hours")
	}
	if startMin+in.DurationMinutes > workEnd {
		return nil, NewValidationError("duration_minutes", "slot would end after the doctor's working hours")
	}

	slot := &Slot{
		DoctorID:        doctorID,
		Weekday:         in.Weekday,
		StartTime:       start,
		DurationMinutes: in.DurationMinutes,
		IsAvailable:     true,
	}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// ListDoctorSlots returns a doctor's published slots, optionally only the
// ones still open for booking.
func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, onlyAvailable bool, limit, offset int) ([]*Slot, int, error) {
	if _, err := s.doctors.DoctorSchedule(ctx, doctorID); err != nil {
		return nil, 0, err
	}
	return s.slots.ListByDoctor(ctx, doctorID, onlyAvailable, limit, offset)
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.slots.GetByID(ctx, id)
}

// DeleteSlot removes a slot that has no active booking. Cancelled booking
// history is removed with it.
func (s *Service) DeleteSlot(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanPublishSlots(slot.DoctorID) {
		return ErrForbidden
	}
	return s.slots.Delete(ctx, id)
}

type CreateBookingInput struct {
	SlotID    uuid.UUID `json:"slot_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      string    `json:"date"`
	Reason    *string   `json:"reason,omitempty"`
}

// CreateBooking claims a slot occurrence for a patient. The critical
// section runs under a per-slot hold and a transaction; the partial unique
// index on active bookings is the final arbiter if two requests race past
// both checks.
func (s *Service) CreateBooking(ctx context.Context, actor auth.Actor, in CreateBookingInput) (*Booking, error) {
	patientID := in.PatientID
	if patientID == uuid.Nil {
		patientID = actor.UserID
	}
	if !actor.CanBook(patientID) {
		return nil, ErrForbidden
	}
	if in.SlotID == uuid.Nil {
		return nil, NewValidationError("slot_id", "slot_id is required")
	}

	date, err := time.Parse("2006-01-02", strings.TrimSpace(in.Date))
	if err != nil {
		return nil, NewValidationError("date", "date must be a valid date in YYYY-MM-DD format")
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.Before(today) {
		return nil, NewValidationError("date", "date cannot be in the past")
	}

	var (
		booking *Booking
		slot    *Slot
	)
	err = s.withHold(ctx, in.SlotID, func(ctx context.Context) error {
		return s.inTx(ctx, func(ctx context.Context) error {
			var err error
			slot, err = s.slots.GetByID(ctx, in.SlotID)
			if err != nil {
				return err
			}
			if isoWeekday(date) != slot.Weekday {
				return NewValidationError("date", "date does not fall on this slot's weekday")
			}

			taken, err := s.bookings.ActiveExistsForPatient(ctx, slot.ID, patientID)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicateBooking
			}
			if !slot.IsAvailable {
				return ErrSlotUnavailable
			}
			// The availability flag is derived state; count the live rows
			// too so a stale flag cannot hand out a taken slot.
			active, err := s.bookings.CountActiveBySlot(ctx, slot.ID)
			if err != nil {
				return err
			}
			if active > 0 {
				return ErrSlotUnavailable
			}

			booking = &Booking{
				SlotID:          slot.ID,
				PatientID:       patientID,
				AppointmentDate: date,
				Reason:          trimmedPtr(in.Reason),
				Status:          StatusPending,
			}
			if err := s.bookings.Create(ctx, booking); err != nil {
				return err
			}
			return s.recomputeAvailability(ctx, slot.ID)
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.BookingCreated(ctx, newBookingEvent(booking, slot))
	}
	return booking, nil
}

// CancelBooking releases a booking's claim on its slot. Cancelling an
// already-cancelled booking succeeds without side effects.
func (s *Service) CancelBooking(ctx context.Context, actor auth.Actor, id uuid.UUID, reason *string) (*Booking, error) {
	var (
		booking *Booking
		slot    *Slot
		changed bool
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		slot, err = s.slots.GetByID(ctx, booking.SlotID)
		if err != nil {
			return err
		}
		if !actor.CanCancelBooking(booking.PatientID, slot.DoctorID) {
			return ErrForbidden
		}
		if booking.Cancelled() {
			return nil
		}
		if !canTransition(booking.Status, StatusCancelled) {
			return ErrInvalidTransition
		}

		now := time.Now().UTC()
		booking.Status = StatusCancelled
		booking.CancelledAt = &now
		booking.CancellationReason = trimmedPtr(reason)
		if err := s.bookings.Update(ctx, booking); err != nil {
			return err
		}
		changed = true
		return s.recomputeAvailability(ctx, slot.ID)
	})
	if err != nil {
		return nil, err
	}

	if changed && s.notifier != nil {
		s.notifier.BookingCancelled(ctx, newBookingEvent(booking, slot))
	}
	return booking, nil
}

// ConfirmBooking moves a pending booking to confirmed.
func (s *Service) ConfirmBooking(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, actor, id, StatusConfirmed)
}

// CompleteBooking marks a booking's appointment as having taken place.
func (s *Service) CompleteBooking(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, actor, id, StatusCompleted)
}

// MarkNoShow records that the patient did not attend. The slot stays
// claimed; only cancellation frees it.
func (s *Service) MarkNoShow(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, actor, id, StatusNoShow)
}

// transition applies a doctor-driven status change. Completed, no_show and
// cancelled bookings all still count against availability or have already
// released it, so no recompute happens here.
func (s *Service) transition(ctx context.Context, actor auth.Actor, id uuid.UUID, to string) (*Booking, error) {
	var (
		booking *Booking
		slot    *Slot
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		slot, err = s.slots.GetByID(ctx, booking.SlotID)
		if err != nil {
			return err
		}
		if !actor.CanManageBooking(slot.DoctorID) {
			return ErrForbidden
		}
		if !canTransition(booking.Status, to) {
			return ErrInvalidTransition
		}
		booking.Status = to
		return s.bookings.Update(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		ev := newBookingEvent(booking, slot)
		switch to {
		case StatusConfirmed:
			s.notifier.BookingConfirmed(ctx, ev)
		case StatusCompleted:
			s.notifier.BookingCompleted(ctx, ev)
		}
	}
	return booking, nil
}

// GetBooking returns a booking to its patient, its doctor, or an admin.
func (s *Service) GetBooking(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	slot, err := s.slots.GetByID(ctx, booking.SlotID)
	if err != nil {
		return nil, err
	}
	if !actor.CanViewBooking(booking.PatientID, slot.DoctorID) {
		return nil, ErrForbidden
	}
	return booking, nil
}

// ListBookings returns bookings scoped to the actor: patients see their
// own, doctors see bookings on their slots, admins see everything and may
// filter by status.
func (s *Service) ListBookings(ctx context.Context, actor auth.Actor, status string, limit, offset int) ([]*Booking, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, NewValidationError("status", "status must be one of pending, confirmed, completed, no_show, cancelled")
	}

	switch actor.Role {
	case auth.RolePatient:
		return s.bookings.ListByPatient(ctx, actor.UserID, limit, offset)
	case auth.RoleDoctor:
		return s.bookings.ListByDoctor(ctx, actor.UserID, limit, offset)
	case auth.RoleAdmin:
		params := map[string]string{}
		if status != "" {
			params["status"] = status
		}
		return s.bookings.Search(ctx, params, limit, offset)
	}
	return nil, 0, ErrForbidden
}

// BookingEvent returns the flattened event view of a single booking, used
// by the reminder pipeline to render from live data at send time.
func (s *Service) BookingEvent(ctx context.Context, id uuid.UUID) (BookingEvent, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return BookingEvent{}, err
	}
	slot, err := s.slots.GetByID(ctx, booking.SlotID)
	if err != nil {
		return BookingEvent{}, err
	}
	return newBookingEvent(booking, slot), nil
}

// UpcomingBookings lists events for active bookings whose appointment dates
// fall within [from, to] inclusive.
func (s *Service) UpcomingBookings(ctx context.Context, from, to time.Time) ([]BookingEvent, error) {
	return s.bookings.ListActiveEvents(ctx, from, to)
}

func (s *Service) recomputeAvailability(ctx context.Context, slotID uuid.UUID) error {
	active, err := s.bookings.CountActiveBySlot(ctx, slotID)
	if err != nil {
		return err
	}
	return s.slots.SetAvailability(ctx, slotID, active == 0)
}

func newBookingEvent(b *Booking, s *Slot) BookingEvent {
	ev := BookingEvent{
		BookingID:       b.ID,
		SlotID:          b.SlotID,
		PatientID:       b.PatientID,
		DoctorID:        s.DoctorID,
		AppointmentDate: b.AppointmentDate,
		StartTime:       s.StartTime,
		Status:          b.Status,
	}
	if b.CancellationReason != nil {
		ev.CancellationReason = *b.CancellationReason
	}
	return ev
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
