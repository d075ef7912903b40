package reminders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/db"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/metrics"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/outbox"
)

const dueColumns = `id::text, owner_id::text, resource_id::text,
	COALESCE(attendee_name, ''), COALESCE(attendee_email, ''), COALESCE(attendee_phone, ''),
	start_time, end_time, status`

// Repository answers "which appointments need a reminder" and turns due rows
// into outbox events. Cadence is owned by the external cron trigger; this code
// never schedules itself.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	lead   time.Duration
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository, lead time.Duration) *Repository {
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	return &Repository{pool: pool, outbox: outboxRepo, lead: lead}
}

// FindDue is a pure query: active appointments starting within the reminder
// lead window that have not been reminded. No side effects.
func (r *Repository) FindDue(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dueColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed', 'rescheduled')
			AND reminded_at IS NULL
			AND start_time > $1
			AND start_time <= $2
		ORDER BY start_time ASC
	`, now, now.Add(r.lead))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDue(rows)
}

// Dispatch stamps due appointments and enqueues one reminder event each, all
// in a single transaction. Rows locked by a concurrent dispatch are skipped,
// so two overlapping cron firings never double-remind.
func (r *Repository) Dispatch(ctx context.Context, now time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+dueColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed', 'rescheduled')
			AND reminded_at IS NULL
			AND start_time > $1
			AND start_time <= $2
		ORDER BY start_time ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now, now.Add(r.lead), batchSize)
	if err != nil {
		return 0, err
	}
	due, err := scanDue(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, tx.Commit(ctx)
	}

	ids := make([]string, 0, len(due))
	for _, appt := range due {
		payload, err := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"owner_id":       appt.OwnerID,
			"resource_id":    appt.ResourceID,
			"attendee_name":  appt.AttendeeName,
			"attendee_email": appt.AttendeeEmail,
			"attendee_phone": appt.AttendeePhone,
			"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
			"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
			"remind_at":      now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return 0, err
		}
		if err := r.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventReminderDue,
			Payload:       payload,
		}); err != nil {
			return 0, err
		}
		ids = append(ids, appt.ID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminded_at = $2
		WHERE id = ANY($1::uuid[])
	`, ids, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	metrics.AddRemindersDispatched(len(ids))
	return len(ids), nil
}

func scanDue(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var status string
		if err := rows.Scan(
			&appt.ID,
			&appt.OwnerID,
			&appt.ResourceID,
			&appt.AttendeeName,
			&appt.AttendeeEmail,
			&appt.AttendeePhone,
			&appt.StartTime,
			&appt.EndTime,
			&status,
		); err != nil {
			return nil, err
		}
		appt.Status = model.Status(status)
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
