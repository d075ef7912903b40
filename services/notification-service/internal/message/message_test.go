package message

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"no appointment id", `{"start_time":"2026-05-01T10:00:00Z"}`},
		{"no start time", `{"appointment_id":"appt-1"}`},
		{"bad start time", `{"appointment_id":"appt-1","start_time":"tomorrow"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.raw)); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestParseValidPayload(t *testing.T) {
	p, err := Parse([]byte(`{
		"appointment_id": "appt-1",
		"attendee_name": "Jamie",
		"attendee_email": "jamie@example.com",
		"start_time": "2026-05-01T10:00:00Z",
		"end_time": "2026-05-01T11:00:00Z",
		"status": "scheduled"
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.AppointmentID != "appt-1" || p.AttendeeEmail != "jamie@example.com" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestBuildPerEventType(t *testing.T) {
	p := Payload{
		AppointmentID: "appt-1",
		AttendeeName:  "Jamie",
		StartTime:     "2026-05-01T10:00:00Z",
	}
	cases := []struct {
		eventType string
		wantWord  string
	}{
		{"scheduling.appointment.created.v1", "booked"},
		{"scheduling.appointment.confirmed.v1", "confirmed"},
		{"scheduling.appointment.rescheduled.v1", "moved"},
		{"scheduling.appointment.cancelled.v1", "cancelled"},
		{"scheduling.appointment.completed.v1", "thanks"},
		{"scheduling.reminder.due.v1", "reminder"},
	}
	for _, tc := range cases {
		msg, ok := Build(tc.eventType, p)
		if !ok {
			t.Errorf("Build(%s) not ok", tc.eventType)
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Body), tc.wantWord) {
			t.Errorf("Build(%s) body %q missing %q", tc.eventType, msg.Body, tc.wantWord)
		}
		if !strings.Contains(msg.Body, "Jamie") {
			t.Errorf("Build(%s) body %q missing attendee name", tc.eventType, msg.Body)
		}
	}
}

func TestBuildCancelledIncludesReason(t *testing.T) {
	p := Payload{
		AppointmentID: "appt-1",
		AttendeeName:  "Jamie",
		StartTime:     "2026-05-01T10:00:00Z",
		Reason:        "staff illness",
	}
	msg, ok := Build("scheduling.appointment.cancelled.v1", p)
	if !ok {
		t.Fatal("build not ok")
	}
	if !strings.Contains(msg.Body, "staff illness") {
		t.Errorf("body %q missing cancellation reason", msg.Body)
	}
}

func TestBuildUnknownEventType(t *testing.T) {
	if _, ok := Build("scheduling.unknown.v1", Payload{}); ok {
		t.Error("unknown event type rendered")
	}
}
