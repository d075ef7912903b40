package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/db"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/audit"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/lifecycle"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/outbox"
)

const appointmentColumns = `id::text, owner_id::text, resource_id::text,
	COALESCE(attendee_name, ''), COALESCE(attendee_email, ''), COALESCE(attendee_phone, ''),
	COALESCE(details, ''), start_time, end_time, status, cancelled_at,
	COALESCE(cancel_reason, ''), reminded_at, created_at, updated_at, version`

// Store is the Postgres-backed appointment store. It implements
// lifecycle.Store; all lifecycle writes run inside one pgx transaction.
type Store struct {
	pool   *db.Pool
	audit  *audit.Repository
	outbox *outbox.Repository
}

func NewStore(pool *db.Pool, auditRepo *audit.Repository, outboxRepo *outbox.Repository) *Store {
	return &Store{pool: pool, audit: auditRepo, outbox: outboxRepo}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Txn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgxTxn{tx: tx, store: s}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

type pgxTxn struct {
	tx    pgx.Tx
	store *Store
}

func (t *pgxTxn) LockResource(ctx context.Context, resourceID string) error {
	// Advisory lock scoped to the transaction: concurrent bookings for the
	// same resource serialize here, so the overlap check and the insert are
	// atomic with respect to each other.
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resourceID)
	return err
}

func (t *pgxTxn) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, lifecycle.ErrNotFound
	}
	return appt, err
}

func (t *pgxTxn) Insert(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, owner_id, resource_id, attendee_name, attendee_email, attendee_phone, details, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at, version
	`, appt.ID, appt.OwnerID, appt.ResourceID, appt.AttendeeName, appt.AttendeeEmail, appt.AttendeePhone,
		appt.Details, appt.StartTime, appt.EndTime, string(appt.Status)).
		Scan(&appt.CreatedAt, &appt.UpdatedAt, &appt.Version)
	if isExclusionViolation(err) {
		// The no-overlap exclusion constraint is the backstop behind the
		// in-transaction check.
		return &lifecycle.ConflictError{}
	}
	return err
}

func (t *pgxTxn) Update(ctx context.Context, appt *model.Appointment, expectedVersion int64) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
			end_time = $3,
			status = $4,
			cancelled_at = $5,
			cancel_reason = NULLIF($6, ''),
			reminded_at = $7,
			updated_at = now(),
			version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING updated_at, version
	`, appt.ID, appt.StartTime, appt.EndTime, string(appt.Status),
		appt.CancelledAt, appt.CancelReason, appt.RemindedAt, expectedVersion).
		Scan(&appt.UpdatedAt, &appt.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		// The row was loaded earlier in this transaction, so a missing match
		// can only mean the version predicate failed.
		return lifecycle.ErrVersionMismatch
	}
	if isExclusionViolation(err) {
		return &lifecycle.ConflictError{}
	}
	return err
}

func (t *pgxTxn) FindOverlapping(ctx context.Context, resourceID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE resource_id = $1
			AND status IN ('scheduled', 'confirmed', 'rescheduled')
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time ASC
	`, resourceID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (t *pgxTxn) CountActiveForOwner(ctx context.Context, ownerID string, from, to time.Time) (int, error) {
	var cnt int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE owner_id = $1
			AND status IN ('scheduled', 'confirmed', 'rescheduled')
			AND start_time >= $2
			AND start_time < $3
	`, ownerID, from, to).Scan(&cnt)
	return cnt, err
}

func (t *pgxTxn) ClaimIdempotencyKey(ctx context.Context, ownerID, key string) (string, bool, error) {
	id, err := t.selectIdempotencyForUpdate(ctx, ownerID, key)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO appointment_idempotency_keys (owner_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (owner_id, idempotency_key) DO NOTHING
	`, ownerID, key)
	if err != nil {
		return "", false, err
	}

	if _, err := t.selectIdempotencyForUpdate(ctx, ownerID, key); err != nil {
		return "", false, err
	}
	return "", false, nil
}

func (t *pgxTxn) FinalizeIdempotencyKey(ctx context.Context, ownerID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointment_idempotency_keys
		SET appointment_id = $3, updated_at = now()
		WHERE owner_id = $1 AND idempotency_key = $2
	`, ownerID, key, appointmentID)
	return err
}

func (t *pgxTxn) RecordAudit(ctx context.Context, e audit.Entry) error {
	return t.store.audit.Insert(ctx, t.tx, e)
}

func (t *pgxTxn) EnqueueEvent(ctx context.Context, evt outbox.Event) error {
	return t.store.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgxTxn) selectIdempotencyForUpdate(ctx context.Context, ownerID, key string) (string, error) {
	var appointmentID string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM appointment_idempotency_keys
		WHERE owner_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, ownerID, key).Scan(&appointmentID)
	if err != nil {
		return "", err
	}
	return appointmentID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	var cancelledAt, remindedAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.OwnerID,
		&appt.ResourceID,
		&appt.AttendeeName,
		&appt.AttendeeEmail,
		&appt.AttendeePhone,
		&appt.Details,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&cancelledAt,
		&appt.CancelReason,
		&remindedAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&appt.Version,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.CancelledAt = cancelledAt
	appt.RemindedAt = remindedAt
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
