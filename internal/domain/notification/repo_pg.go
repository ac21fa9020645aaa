package notification

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

const notificationCols = `id, recipient_id, booking_id, type, subject, message, delivery_method, status, scheduled_time, sent_time, read_at, created_at, updated_at`

type notificationRepoPG struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, booking_id, type, subject, message, delivery_method, status, scheduled_time, sent_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.RecipientID, n.BookingID, n.Type, n.Subject, n.Message,
		n.DeliveryMethod, n.Status, n.ScheduledTime, n.SentTime,
	)
	if err != nil {
		return fmt.Errorf("notification create: %w", err)
	}
	return nil
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification get: %w", err)
	}
	return n, nil
}

func (r *notificationRepoPG) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1`, recipientID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("notification count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+notificationCols+` FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		recipientID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("notification list: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("notification scan: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	// COALESCE keeps the first read timestamp, so re-reading is idempotent.
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationCols,
		id, recipientID,
	)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification mark read: %w", err)
	}
	return n, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.BookingID, &n.Type, &n.Subject, &n.Message,
		&n.DeliveryMethod, &n.Status, &n.ScheduledTime, &n.SentTime, &n.ReadAt,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

const reminderCols = `id, booking_id, recipient_id, scheduled_time, status, sent_time, created_at, updated_at`

type reminderRepoPG struct {
	pool *pgxpool.Pool
}

func NewReminderRepo(pool *pgxpool.Pool) ReminderRepository {
	return &reminderRepoPG{pool: pool}
}

func (r *reminderRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *reminderRepoPG) Create(ctx context.Context, rem *Reminder) error {
	rem.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reminders (id, booking_id, recipient_id, scheduled_time, status)
		VALUES ($1, $2, $3, $4, $5)`,
		rem.ID, rem.BookingID, rem.RecipientID, rem.ScheduledTime, rem.Status,
	)
	if err != nil {
		return fmt.Errorf("reminder create: %w", err)
	}
	return nil
}

func (r *reminderRepoPG) PendingExists(ctx context.Context, bookingID, recipientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reminders
			WHERE booking_id = $1 AND recipient_id = $2 AND status = 'pending'
		)`,
		bookingID, recipientID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("reminder pending check: %w", err)
	}
	return exists, nil
}

func (r *reminderRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reminderCols+` FROM reminders
		WHERE status = 'pending' AND scheduled_time <= $1
		ORDER BY scheduled_time
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reminder due list: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		var rem Reminder
		err := rows.Scan(
			&rem.ID, &rem.BookingID, &rem.RecipientID, &rem.ScheduledTime,
			&rem.Status, &rem.SentTime, &rem.CreatedAt, &rem.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("reminder scan: %w", err)
		}
		reminders = append(reminders, &rem)
	}
	return reminders, rows.Err()
}

func (r *reminderRepoPG) Update(ctx context.Context, rem *Reminder) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminders
		SET status = $2, sent_time = $3, updated_at = NOW()
		WHERE id = $1`,
		rem.ID, rem.Status, rem.SentTime,
	)
	if err != nil {
		return fmt.Errorf("reminder update: %w", err)
	}
	return nil
}

func (r *reminderRepoPG) CancelPendingByBooking(ctx context.Context, bookingID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminders
		SET status = 'cancelled', updated_at = NOW()
		WHERE booking_id = $1 AND status = 'pending'`,
		bookingID,
	)
	if err != nil {
		return 0, fmt.Errorf("reminder cancel: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// querier is the subset of pgx behavior the repos need, satisfied by both
// *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
