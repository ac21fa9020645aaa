package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/middleware"
)

// AccessRecord is one row of the PHI access trail. Appointment and profile
// data are health information, so every authenticated API access is kept as
// a durable row in addition to the structured log line.
type AccessRecord struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id"`
	UserRole   string     `json:"user_role"`
	Resource   string     `json:"resource"`
	Action     string     `json:"action"` // read, create, update, delete
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	RequestID  string     `json:"request_id"`
	StatusCode int        `json:"status_code"`
	AccessedAt time.Time  `json:"accessed_at"`
}

// AccessLogger persists AccessRecords to the phi_access_log table. It
// implements middleware.AuditRecorder so it can be plugged into the audit
// middleware directly.
type AccessLogger struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewAccessLogger creates an AccessLogger backed by the given pool.
func NewAccessLogger(pool *pgxpool.Pool) *AccessLogger {
	return &AccessLogger{pool: pool, timeout: 5 * time.Second}
}

// RecordAccess implements middleware.AuditRecorder. The middleware calls it
// synchronously after the handler, outside any request transaction, so it
// runs on its own short deadline.
func (a *AccessLogger) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.Record(ctx, accessRecordFromEntry(entry))
}

// accessRecordFromEntry maps a middleware audit entry onto an AccessRecord.
// A subject that is not a UUID (unauthenticated register/login calls) is
// stored as a null user.
func accessRecordFromEntry(entry middleware.AuditEntry) *AccessRecord {
	rec := &AccessRecord{
		UserRole:   entry.UserRole,
		Resource:   entry.ResourceType,
		Action:     entry.Action,
		Method:     entry.Method,
		Path:       entry.Path,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		RequestID:  entry.RequestID,
		StatusCode: entry.StatusCode,
		AccessedAt: entry.Timestamp,
	}
	if id, err := uuid.Parse(entry.UserID); err == nil {
		rec.UserID = &id
	}
	return rec
}

// Record inserts an AccessRecord. Rows are append-only; nothing in the
// application updates or deletes them.
func (a *AccessLogger) Record(ctx context.Context, rec *AccessRecord) error {
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO phi_access_log (
			user_id, user_role, resource, action, method, path,
			ip_address, user_agent, request_id, status_code, accessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := a.pool.QueryRow(ctx, query,
		rec.UserID, rec.UserRole, rec.Resource, rec.Action, rec.Method, rec.Path,
		rec.IPAddress, rec.UserAgent, rec.RequestID, rec.StatusCode, rec.AccessedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("record phi access: %w", err)
	}
	return nil
}

// CountByUser returns how many access rows exist for a user since the given
// time. Compliance reviews use it to spot unusual access volume.
func (a *AccessLogger) CountByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := a.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM phi_access_log WHERE user_id = $1 AND accessed_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count phi access: %w", err)
	}
	return count, nil
}
