package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/audit"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/metrics"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/outbox"
)

// Txn is the unit of work one lifecycle transition runs in. All reads and
// writes below happen in a single database transaction: current state, the
// conflict check, the versioned write, the audit entry, and the outbox event
// commit or roll back together.
type Txn interface {
	// LockResource serializes transitions that book the resource's calendar,
	// closing the check-then-insert race between concurrent requests.
	LockResource(ctx context.Context, resourceID string) error
	// Get returns the appointment row-locked for the rest of the transaction.
	Get(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt *model.Appointment) error
	// Update persists appt and bumps its version; it fails with
	// ErrVersionMismatch when the stored version differs from expectedVersion.
	Update(ctx context.Context, appt *model.Appointment, expectedVersion int64) error
	// FindOverlapping returns active appointments on resourceID intersecting
	// [start, end) under half-open semantics, excluding excludeID when set.
	FindOverlapping(ctx context.Context, resourceID string, start, end time.Time, excludeID string) ([]model.Appointment, error)
	CountActiveForOwner(ctx context.Context, ownerID string, from, to time.Time) (int, error)
	// ClaimIdempotencyKey locks the key row and returns the appointment id it
	// resolved to earlier, if any. A rolled-back claim releases the key.
	ClaimIdempotencyKey(ctx context.Context, ownerID, key string) (appointmentID string, replay bool, err error)
	FinalizeIdempotencyKey(ctx context.Context, ownerID, key, appointmentID string) error
	RecordAudit(ctx context.Context, e audit.Entry) error
	EnqueueEvent(ctx context.Context, evt outbox.Event) error
}

// Store runs a function inside one atomic transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error
}

type Config struct {
	// MonthlyCap limits active appointments per owner per calendar month.
	// Zero disables the cap.
	MonthlyCap int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine enforces the appointment state machine. Every successful transition
// persists the new state, writes exactly one audit entry, and enqueues exactly
// one outbox event; all three share the transaction.
type Engine struct {
	store      Store
	logger     *slog.Logger
	monthlyCap int
	now        func() time.Time
}

func NewEngine(store Store, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:      store,
		logger:     logger,
		monthlyCap: cfg.MonthlyCap,
		now:        cfg.Now,
	}
}

type CreateRequest struct {
	OwnerID        string
	ResourceID     string
	AttendeeName   string
	AttendeeEmail  string
	AttendeePhone  string
	Details        string
	Start          time.Time
	End            time.Time
	ActorID        string
	IdempotencyKey string
}

// Create books a new appointment in status scheduled. When an idempotency key
// is supplied and was already finalized, the original appointment is returned
// with replayed set.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (appt model.Appointment, replayed bool, err error) {
	defer func() { e.observe("create", err) }()

	if !req.End.After(req.Start) {
		return model.Appointment{}, false, ErrInvalidWindow
	}

	err = e.store.InTx(ctx, func(ctx context.Context, tx Txn) error {
		if req.IdempotencyKey != "" {
			existingID, replay, err := tx.ClaimIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if replay && existingID != "" {
				existing, err := tx.Get(ctx, existingID)
				if err != nil {
					return err
				}
				appt = existing
				replayed = true
				return nil
			}
		}

		if err := tx.LockResource(ctx, req.ResourceID); err != nil {
			return err
		}
		overlapping, err := tx.FindOverlapping(ctx, req.ResourceID, req.Start, req.End, "")
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return &ConflictError{ConflictingID: overlapping[0].ID}
		}

		if err := e.checkMonthlyCap(ctx, tx, req.OwnerID, req.Start); err != nil {
			return err
		}

		created := model.Appointment{
			ID:            uuid.NewString(),
			OwnerID:       req.OwnerID,
			ResourceID:    req.ResourceID,
			AttendeeName:  req.AttendeeName,
			AttendeeEmail: req.AttendeeEmail,
			AttendeePhone: req.AttendeePhone,
			Details:       req.Details,
			StartTime:     req.Start,
			EndTime:       req.End,
			Status:        model.StatusScheduled,
		}
		if err := tx.Insert(ctx, &created); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, audit.Entry{
			AppointmentID: created.ID,
			Action:        "created",
			ActorID:       req.ActorID,
			NewStatus:     string(created.Status),
		}); err != nil {
			return err
		}
		if err := enqueueTransitionEvent(ctx, tx, outbox.EventAppointmentCreated, created, nil); err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			if err := tx.FinalizeIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey, created.ID); err != nil {
				return err
			}
		}

		appt = created
		return nil
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, replayed, nil
}

type RescheduleRequest struct {
	ID              string
	NewStart        time.Time
	NewEnd          time.Time
	ActorID         string
	ExpectedVersion int64
}

// Reschedule moves an active appointment to a new window. The appointment's
// own current window never conflicts with itself.
func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (appt model.Appointment, err error) {
	defer func() { e.observe("reschedule", err) }()

	if !req.NewEnd.After(req.NewStart) {
		return model.Appointment{}, ErrInvalidWindow
	}

	err = e.store.InTx(ctx, func(ctx context.Context, tx Txn) error {
		current, err := tx.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, model.StatusRescheduled); err != nil {
			return err
		}
		if current.Version != req.ExpectedVersion {
			return ErrVersionMismatch
		}

		if err := tx.LockResource(ctx, current.ResourceID); err != nil {
			return err
		}
		overlapping, err := tx.FindOverlapping(ctx, current.ResourceID, req.NewStart, req.NewEnd, current.ID)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return &ConflictError{ConflictingID: overlapping[0].ID}
		}

		prev := current.Status
		current.StartTime = req.NewStart
		current.EndTime = req.NewEnd
		current.Status = model.StatusRescheduled
		// The window moved, so any reminder already sent no longer covers it.
		current.RemindedAt = nil
		if err := tx.Update(ctx, &current, req.ExpectedVersion); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, audit.Entry{
			AppointmentID:  current.ID,
			Action:         "rescheduled",
			ActorID:        req.ActorID,
			PreviousStatus: string(prev),
			NewStatus:      string(current.Status),
		}); err != nil {
			return err
		}
		if err := enqueueTransitionEvent(ctx, tx, outbox.EventAppointmentRescheduled, current, nil); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Confirm marks a scheduled appointment as confirmed by the attendee or staff.
func (e *Engine) Confirm(ctx context.Context, id, actorID string, expectedVersion int64) (appt model.Appointment, err error) {
	defer func() { e.observe("confirm", err) }()

	err = e.store.InTx(ctx, func(ctx context.Context, tx Txn) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, model.StatusConfirmed); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionMismatch
		}

		prev := current.Status
		current.Status = model.StatusConfirmed
		if err := tx.Update(ctx, &current, expectedVersion); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, audit.Entry{
			AppointmentID:  current.ID,
			Action:         "confirmed",
			ActorID:        actorID,
			PreviousStatus: string(prev),
			NewStatus:      string(current.Status),
		}); err != nil {
			return err
		}
		if err := enqueueTransitionEvent(ctx, tx, outbox.EventAppointmentConfirmed, current, nil); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

type CancelRequest struct {
	ID              string
	Reason          string
	ActorID         string
	ExpectedVersion int64
}

// Cancel releases the slot. The row stays in place so the audit trail remains
// contiguous; the slot is immediately rebookable.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (appt model.Appointment, err error) {
	defer func() { e.observe("cancel", err) }()

	err = e.store.InTx(ctx, func(ctx context.Context, tx Txn) error {
		current, err := tx.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, model.StatusCancelled); err != nil {
			return err
		}
		if current.Version != req.ExpectedVersion {
			return ErrVersionMismatch
		}

		prev := current.Status
		now := e.now().UTC()
		current.Status = model.StatusCancelled
		current.CancelledAt = &now
		current.CancelReason = req.Reason
		if err := tx.Update(ctx, &current, req.ExpectedVersion); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, audit.Entry{
			AppointmentID:  current.ID,
			Action:         "cancelled",
			ActorID:        req.ActorID,
			PreviousStatus: string(prev),
			NewStatus:      string(current.Status),
		}); err != nil {
			return err
		}
		if err := enqueueTransitionEvent(ctx, tx, outbox.EventAppointmentCancelled, current, map[string]any{
			"cancelled_at": now.Format(time.RFC3339),
			"reason":       req.Reason,
		}); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

type CompleteRequest struct {
	ID      string
	ActorID string
	// Override allows completing before the appointment's end time has passed.
	Override bool
}

// Complete finishes an active appointment. Without an override the end time
// must be in the past.
func (e *Engine) Complete(ctx context.Context, req CompleteRequest) (appt model.Appointment, err error) {
	defer func() { e.observe("complete", err) }()

	err = e.store.InTx(ctx, func(ctx context.Context, tx Txn) error {
		current, err := tx.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, model.StatusCompleted); err != nil {
			return err
		}
		if !req.Override && current.EndTime.After(e.now()) {
			return &InvalidTransitionError{
				Current:   current.Status,
				Requested: model.StatusCompleted,
				Reason:    "appointment has not ended yet",
			}
		}

		prev := current.Status
		current.Status = model.StatusCompleted
		if err := tx.Update(ctx, &current, current.Version); err != nil {
			return err
		}

		if err := tx.RecordAudit(ctx, audit.Entry{
			AppointmentID:  current.ID,
			Action:         "completed",
			ActorID:        req.ActorID,
			PreviousStatus: string(prev),
			NewStatus:      string(current.Status),
		}); err != nil {
			return err
		}
		if err := enqueueTransitionEvent(ctx, tx, outbox.EventAppointmentCompleted, current, nil); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (e *Engine) checkMonthlyCap(ctx context.Context, tx Txn, ownerID string, start time.Time) error {
	if e.monthlyCap <= 0 {
		return nil
	}
	startUTC := start.UTC()
	monthStart := time.Date(startUTC.Year(), startUTC.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	cnt, err := tx.CountActiveForOwner(ctx, ownerID, monthStart, monthEnd)
	if err != nil {
		return err
	}
	if cnt >= e.monthlyCap {
		return ErrBookingLimit
	}
	return nil
}

func (e *Engine) observe(kind string, err error) {
	metrics.ObserveTransition(kind, err)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		metrics.IncConflict()
	}
	if err != nil && e.logger != nil {
		e.logger.Debug("transition rejected", "kind", kind, "err", err)
	}
}

func enqueueTransitionEvent(ctx context.Context, tx Txn, eventType string, appt model.Appointment, extra map[string]any) error {
	payload, err := appointmentPayload(appt, extra)
	if err != nil {
		return err
	}
	return tx.EnqueueEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func appointmentPayload(appt model.Appointment, extra map[string]any) ([]byte, error) {
	m := map[string]any{
		"appointment_id": appt.ID,
		"owner_id":       appt.OwnerID,
		"resource_id":    appt.ResourceID,
		"attendee_name":  appt.AttendeeName,
		"attendee_email": appt.AttendeeEmail,
		"attendee_phone": appt.AttendeePhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	}
	for k, v := range extra {
		m[k] = v
	}
	return json.Marshal(m)
}
