package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/lifecycle"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
)

// Read-side queries. These run on the pool outside any lifecycle transaction;
// nothing here caches appointment state across requests.

func (s *Store) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, lifecycle.ErrNotFound
	}
	return appt, err
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (s *Store) ListByResource(ctx context.Context, resourceID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE resource_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListActiveIntervals returns active appointments for a resource intersecting
// [start, end), used by the free-slot listing. Cancelled and completed
// appointments do not block slots.
func (s *Store) ListActiveIntervals(ctx context.Context, resourceID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE resource_id = $1
			AND status IN ('scheduled', 'confirmed', 'rescheduled')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}
