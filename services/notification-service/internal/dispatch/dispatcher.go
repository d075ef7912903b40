package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/email"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/message"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/outbox"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/sms"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/storage"
)

// Recorder persists the outcome of each delivery attempt.
type Recorder interface {
	Insert(ctx context.Context, d storage.Delivery) error
}

// EventSink enqueues delivery outcome events for publishing.
type EventSink interface {
	Insert(ctx context.Context, evt outbox.Event) error
}

// Dispatcher renders an appointment event and sends it over every channel the
// attendee has contact details for. Each channel attempt is recorded
// individually; a failed send never blocks the other channel.
type Dispatcher struct {
	email      email.Sender
	sms        sms.Sender
	deliveries Recorder
	events     EventSink
	logger     *slog.Logger
}

func New(emailSender email.Sender, smsSender sms.Sender, deliveries Recorder, events EventSink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		email:      emailSender,
		sms:        smsSender,
		deliveries: deliveries,
		events:     events,
		logger:     logger,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, eventType string, raw []byte) error {
	payload, err := message.Parse(raw)
	if err != nil {
		// Malformed payloads are logged and dropped; retrying cannot fix them.
		d.logger.Error("dropping malformed event", "event_type", eventType, "err", err)
		return nil
	}
	msg, ok := message.Build(eventType, payload)
	if !ok {
		d.logger.Warn("no template for event type", "event_type", eventType)
		return nil
	}

	if recipient := strings.TrimSpace(payload.AttendeeEmail); recipient != "" {
		d.attempt(ctx, eventType, payload, "email", recipient, msg, func() error {
			return d.email.Send(recipient, msg.Subject, msg.Body)
		})
	}
	if recipient := strings.TrimSpace(payload.AttendeePhone); recipient != "" {
		d.attempt(ctx, eventType, payload, "sms", recipient, msg, func() error {
			return d.sms.Send(ctx, recipient, msg.Body)
		})
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, eventType string, payload message.Payload, channel, recipient string, msg message.Message, send func() error) {
	delivery := storage.Delivery{
		AppointmentID: payload.AppointmentID,
		OwnerID:       payload.OwnerID,
		EventType:     eventType,
		Channel:       channel,
		Recipient:     recipient,
		Subject:       msg.Subject,
		Body:          msg.Body,
		Status:        storage.StatusSent,
	}
	if err := send(); err != nil {
		delivery.Status = storage.StatusFailed
		delivery.FailureReason = err.Error()
		d.logger.Error("delivery failed",
			"channel", channel, "appointment_id", payload.AppointmentID, "err", err)
	}
	if err := d.deliveries.Insert(ctx, delivery); err != nil {
		d.logger.Error("failed to persist delivery record",
			"channel", channel, "appointment_id", payload.AppointmentID, "err", err)
	}
	d.emitOutcome(ctx, delivery)
}

// emitOutcome enqueues a notification.sent.v1 or notification.failed.v1 event
// describing the attempt. Outcome events are best-effort; an enqueue failure
// never fails the delivery.
func (d *Dispatcher) emitOutcome(ctx context.Context, delivery storage.Delivery) {
	eventType := outbox.EventNotificationSent
	body := map[string]any{
		"appointment_id":    delivery.AppointmentID,
		"owner_id":          delivery.OwnerID,
		"channel":           delivery.Channel,
		"recipient":         delivery.Recipient,
		"source_event_type": delivery.EventType,
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if delivery.Status == storage.StatusFailed {
		eventType = outbox.EventNotificationFailed
		body["error_reason"] = delivery.FailureReason
		body["failed_at"] = now
	} else {
		body["sent_at"] = now
	}

	payload, err := json.Marshal(body)
	if err != nil {
		d.logger.Error("failed to encode outcome event",
			"appointment_id", delivery.AppointmentID, "err", err)
		return
	}
	if err := d.events.Insert(ctx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   delivery.AppointmentID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		d.logger.Error("failed to enqueue outcome event",
			"event_type", eventType, "appointment_id", delivery.AppointmentID, "err", err)
	}
}
