package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/db"
)

// Entry is one immutable record of a state-changing operation. Entries are
// append-only; nothing in this service updates or deletes them.
type Entry struct {
	AppointmentID  string
	Action         string
	ActorID        string
	PreviousStatus string
	NewStatus      string
	CreatedAt      time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the entry inside the caller's transaction. The lifecycle
// transition is not considered committed until this write is durable, so a
// failure here rolls back the state change as well.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_entries (appointment_id, action, actor_id, previous_status, new_status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
	`, e.AppointmentID, e.Action, e.ActorID, e.PreviousStatus, e.NewStatus)
	return err
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id::text, action, COALESCE(actor_id::text, ''),
			COALESCE(previous_status, ''), new_status, created_at
		FROM audit_entries
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.AppointmentID, &e.Action, &e.ActorID, &e.PreviousStatus, &e.NewStatus, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// ListForAppointment returns the full trail for one appointment, oldest first.
func (r *Repository) ListForAppointment(ctx context.Context, appointmentID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id::text, action, COALESCE(actor_id::text, ''),
			COALESCE(previous_status, ''), new_status, created_at
		FROM audit_entries
		WHERE appointment_id = $1
		ORDER BY id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.AppointmentID, &e.Action, &e.ActorID, &e.PreviousStatus, &e.NewStatus, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
