package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/outbox"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/storage"
)

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) Send(to, _, _ string) error {
	f.sent = append(f.sent, to)
	return f.err
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.sent = append(f.sent, to)
	return f.err
}

func (f *fakeSMS) ProviderID() string { return "sms-fake" }

type fakeRecorder struct {
	deliveries []storage.Delivery
}

func (f *fakeRecorder) Insert(_ context.Context, d storage.Delivery) error {
	f.deliveries = append(f.deliveries, d)
	return nil
}

type fakeEvents struct {
	events []outbox.Event
}

func (f *fakeEvents) Insert(_ context.Context, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func newTestDispatcher(emailSender *fakeEmail, smsSender *fakeSMS, rec *fakeRecorder, events *fakeEvents) *Dispatcher {
	return New(emailSender, smsSender, rec, events, slog.New(slog.DiscardHandler))
}

const createdEvent = "scheduling.appointment.created.v1"

func TestHandleSendsBothChannels(t *testing.T) {
	emailSender := &fakeEmail{}
	smsSender := &fakeSMS{}
	rec := &fakeRecorder{}
	events := &fakeEvents{}
	d := newTestDispatcher(emailSender, smsSender, rec, events)

	err := d.Handle(context.Background(), createdEvent, []byte(`{
		"appointment_id": "appt-1",
		"owner_id": "user-1",
		"attendee_name": "Jamie",
		"attendee_email": "jamie@example.com",
		"attendee_phone": "+15550100",
		"start_time": "2026-05-01T10:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(emailSender.sent) != 1 || emailSender.sent[0] != "jamie@example.com" {
		t.Errorf("email sent to %v", emailSender.sent)
	}
	if len(smsSender.sent) != 1 || smsSender.sent[0] != "+15550100" {
		t.Errorf("sms sent to %v", smsSender.sent)
	}
	if len(rec.deliveries) != 2 {
		t.Fatalf("recorded %d deliveries, want 2", len(rec.deliveries))
	}
	for _, dlv := range rec.deliveries {
		if dlv.Status != storage.StatusSent {
			t.Errorf("delivery %s status = %s, want sent", dlv.Channel, dlv.Status)
		}
		if dlv.EventType != createdEvent {
			t.Errorf("delivery event type = %s", dlv.EventType)
		}
	}
	if len(events.events) != 2 {
		t.Fatalf("enqueued %d outcome events, want 2", len(events.events))
	}
	for _, evt := range events.events {
		if evt.EventType != outbox.EventNotificationSent {
			t.Errorf("outcome event type = %s, want %s", evt.EventType, outbox.EventNotificationSent)
		}
		if evt.AggregateID != "appt-1" {
			t.Errorf("outcome aggregate id = %s", evt.AggregateID)
		}
	}
}

func TestHandleRecordsFailureAndContinues(t *testing.T) {
	emailSender := &fakeEmail{err: errors.New("smtp down")}
	smsSender := &fakeSMS{}
	rec := &fakeRecorder{}
	events := &fakeEvents{}
	d := newTestDispatcher(emailSender, smsSender, rec, events)

	err := d.Handle(context.Background(), createdEvent, []byte(`{
		"appointment_id": "appt-1",
		"attendee_email": "jamie@example.com",
		"attendee_phone": "+15550100",
		"start_time": "2026-05-01T10:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(smsSender.sent) != 1 {
		t.Error("sms skipped after email failure")
	}
	var failed, sent int
	for _, dlv := range rec.deliveries {
		switch dlv.Status {
		case storage.StatusFailed:
			failed++
			if dlv.FailureReason != "smtp down" {
				t.Errorf("failure reason = %q", dlv.FailureReason)
			}
		case storage.StatusSent:
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Errorf("deliveries failed=%d sent=%d, want 1 and 1", failed, sent)
	}

	var failedEvents []outbox.Event
	for _, evt := range events.events {
		if evt.EventType == outbox.EventNotificationFailed {
			failedEvents = append(failedEvents, evt)
		}
	}
	if len(failedEvents) != 1 {
		t.Fatalf("enqueued %d failed events, want 1", len(failedEvents))
	}
	var body map[string]any
	if err := json.Unmarshal(failedEvents[0].Payload, &body); err != nil {
		t.Fatalf("decode failed event payload: %v", err)
	}
	if body["error_reason"] != "smtp down" {
		t.Errorf("error_reason = %v", body["error_reason"])
	}
	if body["channel"] != "email" {
		t.Errorf("channel = %v", body["channel"])
	}
}

func TestHandleSkipsMissingChannels(t *testing.T) {
	emailSender := &fakeEmail{}
	smsSender := &fakeSMS{}
	rec := &fakeRecorder{}
	d := newTestDispatcher(emailSender, smsSender, rec, &fakeEvents{})

	err := d.Handle(context.Background(), createdEvent, []byte(`{
		"appointment_id": "appt-1",
		"attendee_email": "jamie@example.com",
		"start_time": "2026-05-01T10:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(smsSender.sent) != 0 {
		t.Errorf("sms sent without phone number: %v", smsSender.sent)
	}
	if len(rec.deliveries) != 1 {
		t.Errorf("recorded %d deliveries, want 1", len(rec.deliveries))
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	emailSender := &fakeEmail{}
	rec := &fakeRecorder{}
	events := &fakeEvents{}
	d := newTestDispatcher(emailSender, &fakeSMS{}, rec, events)

	if err := d.Handle(context.Background(), createdEvent, []byte(`not json`)); err != nil {
		t.Fatalf("malformed payload returned error: %v", err)
	}
	if len(emailSender.sent) != 0 || len(rec.deliveries) != 0 || len(events.events) != 0 {
		t.Error("malformed payload triggered deliveries")
	}
}

func TestHandleIgnoresUnknownEventType(t *testing.T) {
	emailSender := &fakeEmail{}
	rec := &fakeRecorder{}
	d := newTestDispatcher(emailSender, &fakeSMS{}, rec, &fakeEvents{})

	err := d.Handle(context.Background(), "scheduling.unknown.v1", []byte(`{
		"appointment_id": "appt-1",
		"attendee_email": "jamie@example.com",
		"start_time": "2026-05-01T10:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(emailSender.sent) != 0 {
		t.Error("unknown event type produced a send")
	}
}
