package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/availability"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/lifecycle"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
)

// Engine is the lifecycle surface the HTTP layer drives.
type Engine interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (model.Appointment, bool, error)
	Reschedule(ctx context.Context, req lifecycle.RescheduleRequest) (model.Appointment, error)
	Confirm(ctx context.Context, id, actorID string, expectedVersion int64) (model.Appointment, error)
	Cancel(ctx context.Context, req lifecycle.CancelRequest) (model.Appointment, error)
	Complete(ctx context.Context, req lifecycle.CompleteRequest) (model.Appointment, error)
}

// Directory serves reads that need no transaction.
type Directory interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Appointment, error)
	ListByResource(ctx context.Context, resourceID string, limit int) ([]model.Appointment, error)
	ListActiveIntervals(ctx context.Context, resourceID string, start, end time.Time) ([]model.Appointment, error)
}

type AppointmentHandler struct {
	engine Engine
	reads  Directory
	logger *slog.Logger
}

func NewAppointmentHandler(engine Engine, reads Directory, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{engine: engine, reads: reads, logger: logger}
}

type createAppointmentRequest struct {
	OwnerID       string `json:"owner_id"`
	ResourceID    string `json:"resource_id"`
	AttendeeName  string `json:"attendee_name"`
	AttendeeEmail string `json:"attendee_email"`
	AttendeePhone string `json:"attendee_phone"`
	Details       string `json:"details"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type rescheduleRequest struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	ExpectedVersion int64  `json:"expected_version"`
}

type confirmRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

type cancelRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

type completeRequest struct {
	Override bool `json:"override"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	OwnerID       string `json:"owner_id"`
	ResourceID    string `json:"resource_id"`
	AttendeeName  string `json:"attendee_name"`
	AttendeeEmail string `json:"attendee_email,omitempty"`
	AttendeePhone string `json:"attendee_phone,omitempty"`
	Details       string `json:"details,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: a.ID,
		OwnerID:       a.OwnerID,
		ResourceID:    a.ResourceID,
		AttendeeName:  a.AttendeeName,
		AttendeeEmail: a.AttendeeEmail,
		AttendeePhone: a.AttendeePhone,
		Details:       a.Details,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
		CancelReason:  a.CancelReason,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.AttendeeName = strings.TrimSpace(req.AttendeeName)

	ownerID := actor.ID
	if req.OwnerID != "" && req.OwnerID != actor.ID {
		if !actor.IsAdmin() {
			http.Error(w, "cannot book for another owner", http.StatusForbidden)
			return
		}
		ownerID = req.OwnerID
	}
	if req.ResourceID == "" || req.AttendeeName == "" {
		http.Error(w, "resource_id and attendee_name required", http.StatusBadRequest)
		return
	}

	start, end, ok := parseWindow(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	appt, replayed, err := h.engine.Create(r.Context(), lifecycle.CreateRequest{
		OwnerID:        ownerID,
		ResourceID:     req.ResourceID,
		AttendeeName:   req.AttendeeName,
		AttendeeEmail:  strings.TrimSpace(req.AttendeeEmail),
		AttendeePhone:  strings.TrimSpace(req.AttendeePhone),
		Details:        strings.TrimSpace(req.Details),
		Start:          start,
		End:            end,
		ActorID:        actor.ID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeLifecycleError(w, "create", err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	appt, err := h.reads.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLifecycleError(w, "get", err)
		return
	}
	if appt.OwnerID != actor.ID && !actor.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		appts []model.Appointment
		err   error
	)
	if resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id")); resourceID != "" {
		if !actor.IsAdmin() {
			http.Error(w, "admin role required for resource listing", http.StatusForbidden)
			return
		}
		appts, err = h.reads.ListByResource(r.Context(), resourceID, limit)
	} else {
		ownerID := actor.ID
		if requested := strings.TrimSpace(r.URL.Query().Get("owner_id")); requested != "" && requested != actor.ID {
			if !actor.IsAdmin() {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ownerID = requested
		}
		appts, err = h.reads.ListByOwner(r.Context(), ownerID, limit)
	}
	if err != nil {
		h.writeLifecycleError(w, "list", err)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, end, ok := parseWindow(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !h.authorizeMutation(w, r, actor, id) {
		return
	}

	appt, err := h.engine.Reschedule(r.Context(), lifecycle.RescheduleRequest{
		ID:              id,
		NewStart:        start,
		NewEnd:          end,
		ActorID:         actor.ID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeLifecycleError(w, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if !h.authorizeMutation(w, r, actor, id) {
		return
	}

	appt, err := h.engine.Confirm(r.Context(), id, actor.ID, req.ExpectedVersion)
	if err != nil {
		h.writeLifecycleError(w, "confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if !h.authorizeMutation(w, r, actor, id) {
		return
	}

	appt, err := h.engine.Cancel(r.Context(), lifecycle.CancelRequest{
		ID:              id,
		Reason:          strings.TrimSpace(req.Reason),
		ActorID:         actor.ID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeLifecycleError(w, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if !h.authorizeMutation(w, r, actor, id) {
		return
	}
	// Completing early is a staff action.
	if req.Override && !actor.IsAdmin() {
		http.Error(w, "admin role required for override", http.StatusForbidden)
		return
	}

	appt, err := h.engine.Complete(r.Context(), lifecycle.CompleteRequest{
		ID:       id,
		ActorID:  actor.ID,
		Override: req.Override,
	})
	if err != nil {
		h.writeLifecycleError(w, "complete", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	q := r.URL.Query()
	resourceID := strings.TrimSpace(q.Get("resource_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if resourceID == "" || dateStr == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}

	duration := 30 * time.Minute
	if mins, ok := positiveMinutes(q.Get("duration_minutes"), 8*60); ok {
		duration = mins
	}
	step := 15 * time.Minute
	if mins, ok := positiveMinutes(q.Get("slot_step_minutes"), 120); ok {
		step = mins
	}
	windowStart, windowEnd, err := dayWindow(dateStr, q.Get("day_start"), q.Get("day_end"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	active, err := h.reads.ListActiveIntervals(r.Context(), resourceID, windowStart, windowEnd)
	if err != nil {
		h.writeLifecycleError(w, "slots", err)
		return
	}
	busy := make([]availability.Interval, 0, len(active))
	for _, a := range active {
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}

	starts := availability.FreeSlots(windowStart, windowEnd, duration, step, busy, time.Now().UTC())
	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{
			StartTime: s.UTC().Format(time.RFC3339),
			EndTime:   s.Add(duration).UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// authorizeMutation row-checks ownership before a transition. The check itself
// is advisory; the lifecycle transaction re-reads the row under lock.
func (h *AppointmentHandler) authorizeMutation(w http.ResponseWriter, r *http.Request, actor Actor, id string) bool {
	if strings.TrimSpace(id) == "" {
		http.Error(w, "appointment id required", http.StatusBadRequest)
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	appt, err := h.reads.GetByID(r.Context(), id)
	if err != nil {
		h.writeLifecycleError(w, "authorize", err)
		return false
	}
	if appt.OwnerID != actor.ID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *AppointmentHandler) writeLifecycleError(w http.ResponseWriter, op string, err error) {
	var conflict *lifecycle.ConflictError
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidWindow):
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
	case errors.Is(err, lifecycle.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrVersionMismatch):
		http.Error(w, "appointment was modified concurrently; reload and retry", http.StatusPreconditionFailed)
	case errors.Is(err, lifecycle.ErrBookingLimit):
		http.Error(w, "monthly appointment limit reached (upgrade required)", http.StatusPaymentRequired)
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":                      "time slot already booked",
			"conflicting_appointment_id": conflict.ConflictingID,
		})
	case errors.As(err, &invalid):
		http.Error(w, invalid.Error(), http.StatusUnprocessableEntity)
	case lifecycle.IsTransient(err):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "temporary contention; retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("appointment operation failed", "op", op, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseWindow(w http.ResponseWriter, startStr, endStr string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(startStr))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(endStr))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return start.UTC(), end.UTC(), true
}

func positiveMinutes(raw string, max int) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}

func dayWindow(dateStr, startClockStr, endClockStr string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid date")
	}
	if strings.TrimSpace(startClockStr) == "" {
		startClockStr = "09:00"
	}
	if strings.TrimSpace(endClockStr) == "" {
		endClockStr = "17:00"
	}
	startClock, err := time.Parse("15:04", strings.TrimSpace(startClockStr))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid day_start")
	}
	endClock, err := time.Parse("15:04", strings.TrimSpace(endClockStr))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid day_end")
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), startClock.Hour(), startClock.Minute(), 0, 0, time.UTC)
	end := time.Date(day.Year(), day.Month(), day.Day(), endClock.Hour(), endClock.Minute(), 0, 0, time.UTC)
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("day_end must be after day_start")
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
