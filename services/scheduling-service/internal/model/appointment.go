package model

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
)

// IsActive reports whether the appointment still occupies its time slot for
// conflict-checking purposes.
func (s Status) IsActive() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusRescheduled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusRescheduled, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Appointment is a booking of a resource's calendar for a half-open time
// window [StartTime, EndTime). Appointments are never deleted; cancellation is
// a status transition so the audit trail stays contiguous.
type Appointment struct {
	ID            string
	OwnerID       string
	ResourceID    string
	AttendeeName  string
	AttendeeEmail string
	AttendeePhone string
	Details       string
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	CancelledAt   *time.Time
	CancelReason  string
	RemindedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// Overlaps reports whether the appointment's window intersects [start, end)
// under half-open semantics: back-to-back bookings at the exact boundary do
// not overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}
