package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
)

// ReminderSource finds appointments whose reminder window has opened and
// dispatches reminder events for them.
type ReminderSource interface {
	FindDue(ctx context.Context, now time.Time) ([]model.Appointment, error)
	Dispatch(ctx context.Context, now time.Time, batchSize int) (int, error)
}

type ReminderHandler struct {
	source ReminderSource
	logger *slog.Logger
}

func NewReminderHandler(source ReminderSource, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{source: source, logger: logger}
}

type dueReminderItem struct {
	AppointmentID string `json:"appointment_id"`
	OwnerID       string `json:"owner_id"`
	ResourceID    string `json:"resource_id"`
	AttendeeEmail string `json:"attendee_email,omitempty"`
	AttendeePhone string `json:"attendee_phone,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

type dispatchRemindersRequest struct {
	BatchSize int `json:"batch_size"`
}

type dispatchRemindersResponse struct {
	Dispatched int `json:"dispatched"`
}

// Due lists due reminders without mutating anything. The now query parameter
// overrides the clock so schedulers and tests can probe arbitrary instants.
func (h *ReminderHandler) Due(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	now := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("now")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid now", http.StatusBadRequest)
			return
		}
		now = parsed.UTC()
	}

	due, err := h.source.FindDue(r.Context(), now)
	if err != nil {
		h.logger.Error("due reminder query failed", "err", err)
		http.Error(w, "failed to list due reminders", http.StatusInternalServerError)
		return
	}

	items := make([]dueReminderItem, 0, len(due))
	for _, a := range due {
		items = append(items, dueReminderItem{
			AppointmentID: a.ID,
			OwnerID:       a.OwnerID,
			ResourceID:    a.ResourceID,
			AttendeeEmail: a.AttendeeEmail,
			AttendeePhone: a.AttendeePhone,
			StartTime:     a.StartTime.UTC().Format(time.RFC3339),
			EndTime:       a.EndTime.UTC().Format(time.RFC3339),
			Status:        string(a.Status),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ReminderHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var req dispatchRemindersRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}

	count, err := h.source.Dispatch(r.Context(), time.Now().UTC(), req.BatchSize)
	if err != nil {
		h.logger.Error("reminder dispatch failed", "err", err)
		http.Error(w, "failed to dispatch reminders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dispatchRemindersResponse{Dispatched: count})
}
