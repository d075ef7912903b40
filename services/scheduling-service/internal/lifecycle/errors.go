package lifecycle

import (
	"errors"
	"fmt"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
)

var (
	// ErrNotFound means the appointment id does not exist.
	ErrNotFound = errors.New("appointment not found")

	// ErrVersionMismatch means the caller's expected version is stale; the
	// caller should refetch and retry.
	ErrVersionMismatch = errors.New("appointment was modified concurrently")

	// ErrInvalidWindow means the requested window violates startTime < endTime.
	ErrInvalidWindow = errors.New("start time must be before end time")

	// ErrBookingLimit means the owner's monthly active-appointment cap is
	// reached.
	ErrBookingLimit = errors.New("monthly appointment limit reached")
)

// ConflictError reports that a requested window overlaps an active appointment
// on the same resource.
type ConflictError struct {
	ConflictingID string
}

func (e *ConflictError) Error() string {
	if e.ConflictingID == "" {
		return "time slot already booked"
	}
	return fmt.Sprintf("time slot already booked by appointment %s", e.ConflictingID)
}

// InvalidTransitionError reports a status change not permitted from the
// current status.
type InvalidTransitionError struct {
	Current   model.Status
	Requested model.Status
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot transition appointment from %s to %s", e.Current, e.Requested)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TransientError wraps infrastructure failures (deadlock, lock timeout,
// serialization) where retrying the whole operation from scratch is safe.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient store error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
