package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	conflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "conflicts_total",
			Help:      "Booking attempts rejected because the window overlapped an active appointment.",
		},
	)

	eventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "outbox_events_published_total",
			Help:      "Outbox events delivered to Kafka.",
		},
	)

	remindersDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "reminders_dispatched_total",
			Help:      "Reminder events enqueued by the dispatch endpoint.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(transitions, conflicts, eventsPublished, remindersDispatched)
	})
}

func ObserveTransition(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	transitions.WithLabelValues(kind, outcome).Inc()
}

func IncConflict() {
	conflicts.Inc()
}

func AddEventsPublished(n int) {
	eventsPublished.Add(float64(n))
}

func AddRemindersDispatched(n int) {
	remindersDispatched.Add(float64(n))
}
