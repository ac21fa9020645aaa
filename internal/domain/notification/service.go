package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/domain/scheduling"
	delivery "github.com/carebook/carebook/internal/platform/notification"
	"github.com/carebook/carebook/internal/platform/websocket"
)

// DefaultReminderHour is the UTC hour at which appointment-day reminders
// go out unless the service is configured with a different one.
const DefaultReminderHour = 8

// Directory resolves notification recipients. The identity domain provides
// the implementation.
type Directory interface {
	Party(ctx context.Context, userID uuid.UUID) (*Party, error)
}

// BookingSource supplies booking context for the reminder pipeline. The
// scheduling service satisfies it.
type BookingSource interface {
	UpcomingBookings(ctx context.Context, from, to time.Time) ([]scheduling.BookingEvent, error)
	BookingEvent(ctx context.Context, bookingID uuid.UUID) (scheduling.BookingEvent, error)
}

// Service persists notifications, reacts to booking lifecycle events, and
// drives the reminder pipeline. It satisfies the scheduling Notifier
// interface, so booking flows must never fail on notification problems;
// every error here is logged and absorbed.
type Service struct {
	notifications NotificationRepository
	reminders     ReminderRepository
	directory     Directory
	dispatcher    *delivery.Dispatcher
	publisher     websocket.EventPublisher
	reminderHour  int
	log           zerolog.Logger
}

func NewService(
	notifications NotificationRepository,
	reminders ReminderRepository,
	directory Directory,
	dispatcher *delivery.Dispatcher,
	publisher websocket.EventPublisher,
	reminderHour int,
	log zerolog.Logger,
) *Service {
	if reminderHour < 0 || reminderHour > 23 {
		reminderHour = DefaultReminderHour
	}
	return &Service{
		notifications: notifications,
		reminders:     reminders,
		directory:     directory,
		dispatcher:    dispatcher,
		publisher:     publisher,
		reminderHour:  reminderHour,
		log:           log,
	}
}

// BookingCreated notifies both participants and schedules their reminders.
func (s *Service) BookingCreated(ctx context.Context, ev scheduling.BookingEvent) {
	s.notifyBoth(ctx, ev, TypeConfirmation, "appointment-created")
	if _, err := s.ScheduleReminders(ctx, ev); err != nil {
		s.log.Error().Err(err).Stringer("booking_id", ev.BookingID).Msg("schedule reminders")
	}
}

// BookingConfirmed notifies both participants of the doctor's confirmation.
func (s *Service) BookingConfirmed(ctx context.Context, ev scheduling.BookingEvent) {
	s.notifyBoth(ctx, ev, TypeConfirmation, "appointment-confirmed")
}

// BookingCancelled notifies both participants and voids pending reminders.
func (s *Service) BookingCancelled(ctx context.Context, ev scheduling.BookingEvent) {
	s.notifyBoth(ctx, ev, TypeCancellation, "appointment-cancelled")
	if _, err := s.reminders.CancelPendingByBooking(ctx, ev.BookingID); err != nil {
		s.log.Error().Err(err).Stringer("booking_id", ev.BookingID).Msg("cancel reminders")
	}
}

// BookingCompleted notifies both participants that the visit took place.
func (s *Service) BookingCompleted(ctx context.Context, ev scheduling.BookingEvent) {
	s.notifyBoth(ctx, ev, TypeCompleted, "appointment-completed")
}

func (s *Service) notifyBoth(ctx context.Context, ev scheduling.BookingEvent, ntype, templatePrefix string) {
	patient, doctor, err := s.resolveParties(ctx, ev)
	if err != nil {
		s.log.Error().Err(err).Stringer("booking_id", ev.BookingID).Msg("resolve notification parties")
		return
	}
	data := templateData(patient, doctor, ev)
	s.deliver(ctx, patient, ev, ntype, templatePrefix+"-patient", data, nil)
	s.deliver(ctx, doctor, ev, ntype, templatePrefix+"-doctor", data, nil)
}

func (s *Service) resolveParties(ctx context.Context, ev scheduling.BookingEvent) (patient, doctor *Party, err error) {
	patient, err = s.directory.Party(ctx, ev.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("patient %s: %w", ev.PatientID, err)
	}
	doctor, err = s.directory.Party(ctx, ev.DoctorID)
	if err != nil {
		return nil, nil, fmt.Errorf("doctor %s: %w", ev.DoctorID, err)
	}
	return patient, doctor, nil
}

// deliver renders the template, appends the cancellation reason when one
// exists, sends, and records the outcome as a notification row.
func (s *Service) deliver(ctx context.Context, recipient *Party, ev scheduling.BookingEvent, ntype, templateID string, data map[string]string, scheduledAt *time.Time) {
	subject, body, err := s.dispatcher.Templates().Render(templateID, data)
	if err != nil {
		s.log.Error().Err(err).Str("template", templateID).Msg("render notification")
		return
	}
	if ntype == TypeCancellation && ev.CancellationReason != "" {
		body += " Reason: " + ev.CancellationReason
	}

	n := &Notification{
		RecipientID:    recipient.ID,
		BookingID:      &ev.BookingID,
		Type:           ntype,
		Subject:        subject,
		Message:        body,
		DeliveryMethod: MethodEmail,
		ScheduledTime:  scheduledAt,
	}
	now := time.Now().UTC()
	if err := s.dispatcher.Dispatch(ctx, delivery.ChannelEmail, recipient.Email, subject, body); err != nil {
		n.Status = StatusFailed
		s.log.Error().Err(err).Str("recipient", recipient.Email).Msg("dispatch notification")
	} else {
		n.Status = StatusSent
		n.SentTime = &now
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		s.log.Error().Err(err).Stringer("recipient_id", recipient.ID).Msg("persist notification")
		return
	}
	s.push(ctx, n)
}

// push forwards a stored notification to the recipient's websocket topic.
func (s *Service) push(ctx context.Context, n *Notification) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	ev := websocket.Event{
		Type:         "notification",
		Topic:        websocket.UserTopic(n.RecipientID.String()),
		ResourceType: "notification",
		ResourceID:   n.ID.String(),
		Timestamp:    time.Now().UTC(),
		Data:         payload,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("publish notification event")
	}
}

// ScheduleReminders creates pending reminders for both participants of a
// booking, due at the reminder hour on the appointment date. Same-day and
// past appointments get none; existing pending reminders are kept, so the
// call is idempotent. Returns how many reminders were created.
func (s *Service) ScheduleReminders(ctx context.Context, ev scheduling.BookingEvent) (int, error) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	date := ev.AppointmentDate.UTC()
	if !date.After(today) {
		return 0, nil
	}
	at := time.Date(date.Year(), date.Month(), date.Day(), s.reminderHour, 0, 0, 0, time.UTC)

	created := 0
	for _, recipientID := range []uuid.UUID{ev.PatientID, ev.DoctorID} {
		exists, err := s.reminders.PendingExists(ctx, ev.BookingID, recipientID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		rem := &Reminder{
			BookingID:     ev.BookingID,
			RecipientID:   recipientID,
			ScheduledTime: at,
			Status:        ReminderPending,
		}
		if err := s.reminders.Create(ctx, rem); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// ScheduleUpcomingReminders walks active bookings with appointments in the
// next `days` days and ensures reminders exist for each. Returns how many
// reminders were created.
func (s *Service) ScheduleUpcomingReminders(ctx context.Context, source BookingSource, days int) (int, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	to := from.AddDate(0, 0, days-1)

	events, err := source.UpcomingBookings(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list upcoming bookings: %w", err)
	}

	created := 0
	for _, ev := range events {
		n, err := s.ScheduleReminders(ctx, ev)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// ProcessDueReminders sends every pending reminder whose scheduled time has
// passed. Each send is recorded as a notification row; reminders whose
// booking was cancelled in the meantime are voided instead of sent.
func (s *Service) ProcessDueReminders(ctx context.Context, source BookingSource, now time.Time, limit int) (sent, failed int, err error) {
	due, err := s.reminders.ListDue(ctx, now, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list due reminders: %w", err)
	}

	for _, rem := range due {
		delivered, perr := s.processReminder(ctx, source, rem, now)
		if perr != nil {
			failed++
			s.log.Error().Err(perr).Stringer("reminder_id", rem.ID).Msg("process reminder")
			continue
		}
		if delivered {
			sent++
		}
	}
	return sent, failed, nil
}

func (s *Service) processReminder(ctx context.Context, source BookingSource, rem *Reminder, now time.Time) (bool, error) {
	ev, err := source.BookingEvent(ctx, rem.BookingID)
	if err != nil {
		s.markReminder(ctx, rem, ReminderFailed, nil)
		return false, fmt.Errorf("resolve booking: %w", err)
	}
	if ev.Status == scheduling.StatusCancelled {
		s.markReminder(ctx, rem, ReminderCancelled, nil)
		return false, nil
	}

	patient, doctor, err := s.resolveParties(ctx, ev)
	if err != nil {
		s.markReminder(ctx, rem, ReminderFailed, nil)
		return false, err
	}
	recipient := patient
	templateID := "appointment-reminder-patient"
	if rem.RecipientID == ev.DoctorID {
		recipient = doctor
		templateID = "appointment-reminder-doctor"
	}

	data := templateData(patient, doctor, ev)
	subject, body, derr := s.dispatcher.DispatchTemplate(ctx, delivery.ChannelEmail, recipient.Email, templateID, data)

	n := &Notification{
		RecipientID:    rem.RecipientID,
		BookingID:      &rem.BookingID,
		Type:           TypeReminder,
		Subject:        subject,
		Message:        body,
		DeliveryMethod: MethodEmail,
		ScheduledTime:  &rem.ScheduledTime,
	}
	if derr != nil {
		n.Status = StatusFailed
		if cerr := s.notifications.Create(ctx, n); cerr != nil {
			s.log.Error().Err(cerr).Msg("persist failed reminder notification")
		}
		s.markReminder(ctx, rem, ReminderFailed, nil)
		return false, fmt.Errorf("dispatch reminder: %w", derr)
	}

	n.Status = StatusSent
	n.SentTime = &now
	if cerr := s.notifications.Create(ctx, n); cerr != nil {
		s.log.Error().Err(cerr).Msg("persist reminder notification")
	}
	s.push(ctx, n)
	s.markReminder(ctx, rem, ReminderSent, &now)
	return true, nil
}

func (s *Service) markReminder(ctx context.Context, rem *Reminder, status string, sentAt *time.Time) {
	rem.Status = status
	rem.SentTime = sentAt
	if err := s.reminders.Update(ctx, rem); err != nil {
		s.log.Error().Err(err).Stringer("reminder_id", rem.ID).Msg("update reminder")
	}
}

// ListNotifications returns the recipient's feed, newest first.
func (s *Service) ListNotifications(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return s.notifications.ListByRecipient(ctx, recipientID, limit, offset)
}

// MarkRead stamps a notification as read. Only the recipient sees the row;
// anyone else gets not-found.
func (s *Service) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error) {
	return s.notifications.MarkRead(ctx, id, recipientID)
}

func templateData(patient, doctor *Party, ev scheduling.BookingEvent) map[string]string {
	return map[string]string{
		"patient_name":     patient.FullName(),
		"doctor_last_name": doctor.LastName,
		"date":             ev.AppointmentDate.Format("January 02, 2006"),
		"time":             formatEventTime(ev.StartTime),
	}
}

// formatEventTime converts a 24h "HH:MM" clock to the 12h form used in
// message copy. Unparseable input passes through untouched.
func formatEventTime(clock string) string {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return clock
	}
	return t.Format("03:04 PM")
}
