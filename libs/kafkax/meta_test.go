package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestSplitBrokers(t *testing.T) {
	brokers := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %d", len(brokers))
	}
	if brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", brokers)
	}
	if got := SplitBrokers("  "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestExtractEventMeta(t *testing.T) {
	msg := kafka.Message{
		Topic: "scheduling.appointment.created.v1",
		Key:   []byte("appt-1"),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-42")},
			{Key: "event_type", Value: []byte("scheduling.appointment.created.v1")},
		},
	}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-42" {
		t.Fatalf("unexpected event id %q", meta.EventID)
	}
	if meta.EventType != "scheduling.appointment.created.v1" {
		t.Fatalf("unexpected event type %q", meta.EventType)
	}

	// Fallbacks when headers are absent.
	meta = ExtractEventMeta(kafka.Message{Topic: "t", Key: []byte("k")})
	if meta.EventID != "k" || meta.EventType != "t" {
		t.Fatalf("unexpected fallback meta: %+v", meta)
	}
}
