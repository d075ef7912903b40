package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/audit"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/outbox"
)

// fakeStore mimics the transactional store in memory. Rollback on error is
// approximated by snapshotting state before each transaction.
type fakeStore struct {
	appts       map[string]model.Appointment
	idempotency map[string]string
	audits      []audit.Entry
	events      []outbox.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appts:       make(map[string]model.Appointment),
		idempotency: make(map[string]string),
	}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error {
	snapshot := s.clone()
	if err := fn(ctx, &fakeTxn{store: s}); err != nil {
		s.appts = snapshot.appts
		s.idempotency = snapshot.idempotency
		s.audits = snapshot.audits
		s.events = snapshot.events
		return err
	}
	return nil
}

func (s *fakeStore) clone() *fakeStore {
	c := newFakeStore()
	for k, v := range s.appts {
		c.appts[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	c.audits = append([]audit.Entry(nil), s.audits...)
	c.events = append([]outbox.Event(nil), s.events...)
	return c
}

type fakeTxn struct {
	store *fakeStore
}

func (t *fakeTxn) LockResource(context.Context, string) error { return nil }

func (t *fakeTxn) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.store.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (t *fakeTxn) Insert(_ context.Context, appt *model.Appointment) error {
	appt.Version = 1
	appt.CreatedAt = time.Now().UTC()
	appt.UpdatedAt = appt.CreatedAt
	t.store.appts[appt.ID] = *appt
	return nil
}

func (t *fakeTxn) Update(_ context.Context, appt *model.Appointment, expectedVersion int64) error {
	current, ok := t.store.appts[appt.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	appt.Version = expectedVersion + 1
	appt.UpdatedAt = time.Now().UTC()
	t.store.appts[appt.ID] = *appt
	return nil
}

func (t *fakeTxn) FindOverlapping(_ context.Context, resourceID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.store.appts {
		if a.ResourceID != resourceID || a.ID == excludeID {
			continue
		}
		if !a.Status.IsActive() {
			continue
		}
		if a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *fakeTxn) CountActiveForOwner(_ context.Context, ownerID string, from, to time.Time) (int, error) {
	n := 0
	for _, a := range t.store.appts {
		if a.OwnerID == ownerID && a.Status.IsActive() && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (t *fakeTxn) ClaimIdempotencyKey(_ context.Context, ownerID, key string) (string, bool, error) {
	id, ok := t.store.idempotency[ownerID+"/"+key]
	return id, ok, nil
}

func (t *fakeTxn) FinalizeIdempotencyKey(_ context.Context, ownerID, key, appointmentID string) error {
	t.store.idempotency[ownerID+"/"+key] = appointmentID
	return nil
}

func (t *fakeTxn) RecordAudit(_ context.Context, e audit.Entry) error {
	e.CreatedAt = time.Now().UTC()
	t.store.audits = append(t.store.audits, e)
	return nil
}

func (t *fakeTxn) EnqueueEvent(_ context.Context, evt outbox.Event) error {
	t.store.events = append(t.store.events, evt)
	return nil
}

func newTestEngine(store *fakeStore, cfg Config) *Engine {
	return NewEngine(store, slog.New(slog.DiscardHandler), cfg)
}

func window(h int) (time.Time, time.Time) {
	start := time.Date(2026, 4, 6, h, 0, 0, 0, time.UTC)
	return start, start.Add(time.Hour)
}

func mustCreate(t *testing.T, e *Engine, store *fakeStore, resourceID, ownerID string, start, end time.Time) model.Appointment {
	t.Helper()
	appt, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      ownerID,
		ResourceID:   resourceID,
		AttendeeName: "Jamie",
		Start:        start,
		End:          end,
		ActorID:      ownerID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := store.appts[appt.ID]; got.Status != model.StatusScheduled {
		t.Fatalf("created status = %s, want scheduled", got.Status)
	}
	return appt
}

func TestCreateRejectsOverlap(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	existing := mustCreate(t, e, store, "room-1", "user-1", start, end)

	_, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      "user-2",
		ResourceID:   "room-1",
		AttendeeName: "Sam",
		Start:        start.Add(30 * time.Minute),
		End:          end.Add(30 * time.Minute),
		ActorID:      "user-2",
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.ConflictingID != existing.ID {
		t.Errorf("conflicting id = %q, want %q", conflict.ConflictingID, existing.ID)
	}
	if len(store.appts) != 1 {
		t.Errorf("store has %d appointments after rejected create, want 1", len(store.appts))
	}
}

func TestCreateAllowsTouchingWindows(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	mustCreate(t, e, store, "room-1", "user-1", start, end)

	_, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      "user-2",
		ResourceID:   "room-1",
		AttendeeName: "Sam",
		Start:        end,
		End:          end.Add(time.Hour),
		ActorID:      "user-2",
	})
	if err != nil {
		t.Fatalf("back-to-back create rejected: %v", err)
	}
}

func TestCreateAllowsOverlapOnDifferentResource(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	mustCreate(t, e, store, "room-1", "user-1", start, end)

	if _, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      "user-1",
		ResourceID:   "room-2",
		AttendeeName: "Jamie",
		Start:        start,
		End:          end,
		ActorID:      "user-1",
	}); err != nil {
		t.Fatalf("same window on another resource rejected: %v", err)
	}
}

func TestCreateInvalidWindow(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, _ := window(10)

	_, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      "user-1",
		ResourceID:   "room-1",
		AttendeeName: "Jamie",
		Start:        start,
		End:          start,
		ActorID:      "user-1",
	})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("err = %v, want ErrInvalidWindow", err)
	}
}

func TestCreateMonthlyCap(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{MonthlyCap: 1})
	start, end := window(10)
	mustCreate(t, e, store, "room-1", "user-1", start, end)

	_, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      "user-1",
		ResourceID:   "room-2",
		AttendeeName: "Jamie",
		Start:        start.Add(3 * time.Hour),
		End:          end.Add(3 * time.Hour),
		ActorID:      "user-1",
	})
	if !errors.Is(err, ErrBookingLimit) {
		t.Fatalf("err = %v, want ErrBookingLimit", err)
	}
}

func TestCreateIdempotentReplay(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)

	req := CreateRequest{
		OwnerID:        "user-1",
		ResourceID:     "room-1",
		AttendeeName:   "Jamie",
		Start:          start,
		End:            end,
		ActorID:        "user-1",
		IdempotencyKey: "key-1",
	}
	first, replayed, err := e.Create(context.Background(), req)
	if err != nil || replayed {
		t.Fatalf("first create: appt=%v replayed=%v err=%v", first.ID, replayed, err)
	}

	second, replayed, err := e.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if !replayed {
		t.Fatal("second create with same key not marked as replay")
	}
	if second.ID != first.ID {
		t.Errorf("replay returned %q, want original %q", second.ID, first.ID)
	}
	if len(store.appts) != 1 {
		t.Errorf("store has %d appointments, want 1", len(store.appts))
	}
}

func TestRescheduleIgnoresOwnWindow(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	moved, err := e.Reschedule(context.Background(), RescheduleRequest{
		ID:              appt.ID,
		NewStart:        start.Add(30 * time.Minute),
		NewEnd:          end.Add(30 * time.Minute),
		ActorID:         "user-1",
		ExpectedVersion: appt.Version,
	})
	if err != nil {
		t.Fatalf("reschedule into own window: %v", err)
	}
	if moved.Status != model.StatusRescheduled {
		t.Errorf("status = %s, want rescheduled", moved.Status)
	}
	if moved.Version != appt.Version+1 {
		t.Errorf("version = %d, want %d", moved.Version, appt.Version+1)
	}
}

func TestRescheduleConflictsWithOtherAppointment(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	aStart, aEnd := window(10)
	bStart, bEnd := window(14)
	mustCreate(t, e, store, "room-1", "user-1", aStart, aEnd)
	b := mustCreate(t, e, store, "room-1", "user-2", bStart, bEnd)

	_, err := e.Reschedule(context.Background(), RescheduleRequest{
		ID:              b.ID,
		NewStart:        aStart,
		NewEnd:          aEnd,
		ActorID:         "user-2",
		ExpectedVersion: b.Version,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if got := store.appts[b.ID]; !got.StartTime.Equal(bStart) {
		t.Errorf("appointment moved despite conflict: start = %v", got.StartTime)
	}
}

func TestRescheduleStaleVersion(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	if _, err := e.Confirm(context.Background(), appt.ID, "user-1", appt.Version); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := e.Reschedule(context.Background(), RescheduleRequest{
		ID:              appt.ID,
		NewStart:        start.Add(2 * time.Hour),
		NewEnd:          end.Add(2 * time.Hour),
		ActorID:         "user-1",
		ExpectedVersion: appt.Version,
	})
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(store, Config{Now: func() time.Time { return now }})
	start, end := window(10)
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	cancelled, err := e.Cancel(context.Background(), CancelRequest{
		ID:              appt.ID,
		Reason:          "plans changed",
		ActorID:         "user-1",
		ExpectedVersion: appt.Version,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(now) {
		t.Errorf("cancelled_at = %v, want %v", cancelled.CancelledAt, now)
	}

	var invalid *InvalidTransitionError
	if _, err := e.Confirm(context.Background(), appt.ID, "user-1", cancelled.Version); !errors.As(err, &invalid) {
		t.Errorf("confirm after cancel: err = %v, want InvalidTransitionError", err)
	}
	if _, err := e.Cancel(context.Background(), CancelRequest{
		ID:              appt.ID,
		ActorID:         "user-1",
		ExpectedVersion: cancelled.Version,
	}); !errors.As(err, &invalid) {
		t.Errorf("cancel after cancel: err = %v, want InvalidTransitionError", err)
	}
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	if _, err := e.Cancel(context.Background(), CancelRequest{
		ID:              appt.ID,
		ActorID:         "user-1",
		ExpectedVersion: appt.Version,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, _, err := e.Create(context.Background(), CreateRequest{
		OwnerID:      "user-2",
		ResourceID:   "room-1",
		AttendeeName: "Sam",
		Start:        start,
		End:          end,
		ActorID:      "user-2",
	}); err != nil {
		t.Fatalf("rebooking cancelled slot rejected: %v", err)
	}
}

func TestCompleteBeforeEndRequiresOverride(t *testing.T) {
	store := newFakeStore()
	start, end := window(10)
	now := start.Add(15 * time.Minute)
	e := newTestEngine(store, Config{Now: func() time.Time { return now }})
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	var invalid *InvalidTransitionError
	if _, err := e.Complete(context.Background(), CompleteRequest{ID: appt.ID, ActorID: "user-1"}); !errors.As(err, &invalid) {
		t.Fatalf("early complete: err = %v, want InvalidTransitionError", err)
	}

	done, err := e.Complete(context.Background(), CompleteRequest{ID: appt.ID, ActorID: "admin-1", Override: true})
	if err != nil {
		t.Fatalf("override complete: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
}

func TestCompleteAfterEnd(t *testing.T) {
	store := newFakeStore()
	start, end := window(10)
	e := newTestEngine(store, Config{Now: func() time.Time { return end.Add(time.Minute) }})
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	if _, err := e.Complete(context.Background(), CompleteRequest{ID: appt.ID, ActorID: "user-1"}); err != nil {
		t.Fatalf("complete after end: %v", err)
	}
}

func TestEveryTransitionWritesAuditAndEvent(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{Now: func() time.Time { return time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC) }})
	start, end := window(10)

	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)
	confirmed, err := e.Confirm(context.Background(), appt.ID, "user-1", appt.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := e.Cancel(context.Background(), CancelRequest{
		ID:              appt.ID,
		Reason:          "sick",
		ActorID:         "user-1",
		ExpectedVersion: confirmed.Version,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	wantActions := []string{"created", "confirmed", "cancelled"}
	if len(store.audits) != len(wantActions) {
		t.Fatalf("audit entries = %d, want %d", len(store.audits), len(wantActions))
	}
	for i, want := range wantActions {
		if store.audits[i].Action != want {
			t.Errorf("audit[%d].Action = %q, want %q", i, store.audits[i].Action, want)
		}
	}
	if store.audits[1].PreviousStatus != "scheduled" || store.audits[1].NewStatus != "confirmed" {
		t.Errorf("confirm audit statuses = %q -> %q", store.audits[1].PreviousStatus, store.audits[1].NewStatus)
	}

	wantEvents := []string{
		outbox.EventAppointmentCreated,
		outbox.EventAppointmentConfirmed,
		outbox.EventAppointmentCancelled,
	}
	if len(store.events) != len(wantEvents) {
		t.Fatalf("outbox events = %d, want %d", len(store.events), len(wantEvents))
	}
	for i, want := range wantEvents {
		if store.events[i].EventType != want {
			t.Errorf("event[%d] = %q, want %q", i, store.events[i].EventType, want)
		}
	}
}

func TestFailedTransitionLeavesNoTrace(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)
	auditsBefore := len(store.audits)
	eventsBefore := len(store.events)

	if _, err := e.Confirm(context.Background(), appt.ID, "user-1", appt.Version+5); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}

	if len(store.audits) != auditsBefore {
		t.Errorf("rejected transition wrote %d audit entries", len(store.audits)-auditsBefore)
	}
	if len(store.events) != eventsBefore {
		t.Errorf("rejected transition wrote %d events", len(store.events)-eventsBefore)
	}
}

func TestRescheduleClearsReminderMark(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, Config{})
	start, end := window(10)
	appt := mustCreate(t, e, store, "room-1", "user-1", start, end)

	remindedAt := time.Now().UTC()
	withReminder := store.appts[appt.ID]
	withReminder.RemindedAt = &remindedAt
	store.appts[appt.ID] = withReminder

	moved, err := e.Reschedule(context.Background(), RescheduleRequest{
		ID:              appt.ID,
		NewStart:        start.Add(24 * time.Hour),
		NewEnd:          end.Add(24 * time.Hour),
		ActorID:         "user-1",
		ExpectedVersion: appt.Version,
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.RemindedAt != nil {
		t.Error("reminder mark survived reschedule")
	}
}
