package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/db"
)

const slotCols = `id, doctor_id, weekday, start_time, duration_minutes, is_available, created_at, updated_at`

type slotRepoPG struct {
	pool *pgxpool.Pool
}

func NewSlotRepo(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pool: pool}
}

func (r *slotRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO slots (id, doctor_id, weekday, start_time, duration_minutes, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.DoctorID, s.Weekday, s.StartTime, s.DurationMinutes, s.IsAvailable,
	)
	if err != nil {
		if isUniqueViolation(err, "slots_doctor_id_weekday_start_time_key") {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("slot create: %w", err)
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id)
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("slot get: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, onlyAvailable bool, limit, offset int) ([]*Slot, int, error) {
	where := `WHERE doctor_id = $1`
	if onlyAvailable {
		where += ` AND is_available`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM slots `+where, doctorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("slot count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+` FROM slots `+where+`
		ORDER BY weekday, start_time
		LIMIT $2 OFFSET $3`,
		doctorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("slot list: %w", err)
	}
	defer rows.Close()

	slots, err := scanSlotRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return slots, total, nil
}

func (r *slotRepoPG) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots SET is_available = $2, updated_at = NOW() WHERE id = $1`,
		id, available,
	)
	if err != nil {
		return fmt.Errorf("slot set availability: %w", err)
	}
	return nil
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	// Single guarded statement so an active booking inserted concurrently
	// cannot slip between a check and the delete.
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM bookings WHERE slot_id = $1 AND status != 'cancelled'
		  )`,
		id,
	)
	if err != nil {
		return fmt.Errorf("slot delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotHasBooking
	}
	return nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID, &s.DoctorID, &s.Weekday, &s.StartTime, &s.DurationMinutes,
		&s.IsAvailable, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSlotRows(rows pgx.Rows) ([]*Slot, error) {
	var slots []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("slot scan: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

const bookingCols = `id, slot_id, patient_id, appointment_date, reason, status, cancelled_at, cancellation_reason, created_at, updated_at`

type bookingRepoPG struct {
	pool *pgxpool.Pool
}

func NewBookingRepo(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pool: pool}
}

func (r *bookingRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bookings (id, slot_id, patient_id, appointment_date, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.SlotID, b.PatientID, b.AppointmentDate, b.Reason, b.Status,
	)
	if err != nil {
		// The partial unique index allows one non-cancelled booking per
		// slot; losing the race means the slot was just taken.
		if isUniqueViolation(err, "bookings_one_active_per_slot") {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("booking create: %w", err)
	}
	return nil
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("booking get: %w", err)
	}
	return b, nil
}

func (r *bookingRepoPG) Update(ctx context.Context, b *Booking) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings
		SET status = $2, cancelled_at = $3, cancellation_reason = $4, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.Status, b.CancelledAt, b.CancellationReason,
	)
	if err != nil {
		return fmt.Errorf("booking update: %w", err)
	}
	return nil
}

func (r *bookingRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE patient_id = $1`, patientID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingCols+` FROM bookings
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("booking list: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows, total)
}

func (r *bookingRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE s.doctor_id = $1`,
		doctorID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT b.id, b.slot_id, b.patient_id, b.appointment_date, b.reason, b.status,
		       b.cancelled_at, b.cancellation_reason, b.created_at, b.updated_at
		FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE s.doctor_id = $1
		ORDER BY b.appointment_date DESC, b.created_at DESC
		LIMIT $2 OFFSET $3`,
		doctorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("booking list: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows, total)
}

func (r *bookingRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Booking, int, error) {
	query := `SELECT ` + bookingCols + ` FROM bookings WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM bookings WHERE 1=1`
	args := []interface{}{}
	i := 1

	if status := params["status"]; status != "" {
		cond := fmt.Sprintf(" AND status = $%d", i)
		query += cond
		countQuery += cond
		args = append(args, status)
		i++
	}
	if slotID := params["slot_id"]; slotID != "" {
		cond := fmt.Sprintf(" AND slot_id = $%d", i)
		query += cond
		countQuery += cond
		args = append(args, slotID)
		i++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking count: %w", err)
	}

	query += fmt.Sprintf(" ORDER BY appointment_date DESC, created_at DESC LIMIT $%d OFFSET $%d", i, i+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("booking search: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows, total)
}

func (r *bookingRepoPG) CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = $1 AND status != 'cancelled'`, slotID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("booking active count: %w", err)
	}
	return n, nil
}

func (r *bookingRepoPG) ListActiveEvents(ctx context.Context, from, to time.Time) ([]BookingEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT b.id, b.slot_id, b.patient_id, s.doctor_id, b.appointment_date,
		       s.start_time, b.status, COALESCE(b.cancellation_reason, '')
		FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE b.status != 'cancelled' AND b.appointment_date BETWEEN $1 AND $2
		ORDER BY b.appointment_date, s.start_time`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("booking events: %w", err)
	}
	defer rows.Close()

	var events []BookingEvent
	for rows.Next() {
		var ev BookingEvent
		err := rows.Scan(
			&ev.BookingID, &ev.SlotID, &ev.PatientID, &ev.DoctorID,
			&ev.AppointmentDate, &ev.StartTime, &ev.Status, &ev.CancellationReason,
		)
		if err != nil {
			return nil, fmt.Errorf("booking event scan: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *bookingRepoPG) ActiveExistsForPatient(ctx context.Context, slotID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE slot_id = $1 AND patient_id = $2 AND status != 'cancelled'
		)`,
		slotID, patientID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("booking patient check: %w", err)
	}
	return exists, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID, &b.SlotID, &b.PatientID, &b.AppointmentDate, &b.Reason, &b.Status,
		&b.CancelledAt, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows, total int) ([]*Booking, int, error) {
	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("booking scan: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, total, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique violation on
// the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

// querier is the subset of pgx behavior the repos need, satisfied by both
// *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
