package storage

import (
	"context"
	"time"

	"github.com/peterlianpi/appointment-scheduler-sub001/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Delivery is one attempt to notify an attendee about an appointment event.
type Delivery struct {
	AppointmentID string
	OwnerID       string
	EventType     string
	Channel       string
	Recipient     string
	Subject       string
	Body          string
	Status        string
	FailureReason string
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries (appointment_id, owner_id, event_type, channel, recipient, subject, body, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.AppointmentID, d.OwnerID, d.EventType, d.Channel, d.Recipient, d.Subject, d.Body, d.Status, d.FailureReason)
	return err
}

// ListForAppointment returns deliveries newest first, for support tooling.
func (r *Repository) ListForAppointment(ctx context.Context, appointmentID string) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, owner_id, event_type, channel, recipient, subject, body, status, failure_reason, created_at
		FROM deliveries
		WHERE appointment_id = $1
		ORDER BY created_at DESC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(
			&d.AppointmentID, &d.OwnerID, &d.EventType, &d.Channel, &d.Recipient,
			&d.Subject, &d.Body, &d.Status, &d.FailureReason, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
