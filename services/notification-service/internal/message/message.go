package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Payload is the appointment event body produced by the scheduling service.
// Lifecycle events and reminder events share the same shape; fields that do
// not apply stay empty.
type Payload struct {
	AppointmentID string `json:"appointment_id"`
	OwnerID       string `json:"owner_id"`
	ResourceID    string `json:"resource_id"`
	AttendeeName  string `json:"attendee_name"`
	AttendeeEmail string `json:"attendee_email"`
	AttendeePhone string `json:"attendee_phone"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
	Reason        string `json:"reason"`
	RemindAt      string `json:"remind_at"`
}

var ErrInvalidPayload = errors.New("invalid event payload")

func Parse(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.AppointmentID == "" || p.StartTime == "" {
		return Payload{}, fmt.Errorf("%w: missing appointment_id or start_time", ErrInvalidPayload)
	}
	if _, err := time.Parse(time.RFC3339, p.StartTime); err != nil {
		return Payload{}, fmt.Errorf("%w: bad start_time", ErrInvalidPayload)
	}
	return p, nil
}

type Message struct {
	Subject string
	Body    string
}

// Build composes the notification text for one event. Unknown event types
// return ok=false so the consumer can skip topics it does not render.
func Build(eventType string, p Payload) (Message, bool) {
	name := strings.TrimSpace(p.AttendeeName)
	if name == "" {
		name = "there"
	}
	when := friendlyTime(p.StartTime)

	switch eventType {
	case "scheduling.appointment.created.v1":
		return Message{
			Subject: "Appointment booked",
			Body:    fmt.Sprintf("Hi %s, your appointment on %s is booked.", name, when),
		}, true
	case "scheduling.appointment.confirmed.v1":
		return Message{
			Subject: "Appointment confirmed",
			Body:    fmt.Sprintf("Hi %s, your appointment on %s is confirmed.", name, when),
		}, true
	case "scheduling.appointment.rescheduled.v1":
		return Message{
			Subject: "Appointment rescheduled",
			Body:    fmt.Sprintf("Hi %s, your appointment has been moved to %s.", name, when),
		}, true
	case "scheduling.appointment.cancelled.v1":
		body := fmt.Sprintf("Hi %s, your appointment on %s has been cancelled.", name, when)
		if reason := strings.TrimSpace(p.Reason); reason != "" {
			body += " Reason: " + reason + "."
		}
		return Message{Subject: "Appointment cancelled", Body: body}, true
	case "scheduling.appointment.completed.v1":
		return Message{
			Subject: "Appointment completed",
			Body:    fmt.Sprintf("Hi %s, thanks for attending your appointment on %s.", name, when),
		}, true
	case "scheduling.reminder.due.v1":
		return Message{
			Subject: "Appointment reminder",
			Body:    fmt.Sprintf("Hi %s, this is a reminder of your appointment on %s.", name, when),
		}, true
	}
	return Message{}, false
}

func friendlyTime(raw string) string {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return ts.UTC().Format("Mon, 02 Jan 2006 at 15:04 MST")
}
