package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/audit"
)

// AuditLog reads the append-only trail of lifecycle transitions.
type AuditLog interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Entry, error)
	ListForAppointment(ctx context.Context, appointmentID string) ([]audit.Entry, error)
}

type AuditHandler struct {
	log    AuditLog
	logger *slog.Logger
}

func NewAuditHandler(log AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{log: log, logger: logger}
}

type auditEntryItem struct {
	AppointmentID  string `json:"appointment_id"`
	Action         string `json:"action"`
	ActorID        string `json:"actor_id"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status"`
	CreatedAt      string `json:"created_at"`
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var (
		entries []audit.Entry
		err     error
	)
	if appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id")); appointmentID != "" {
		entries, err = h.log.ListForAppointment(r.Context(), appointmentID)
	} else {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		entries, err = h.log.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("audit listing failed", "err", err)
		http.Error(w, "failed to list audit entries", http.StatusInternalServerError)
		return
	}

	items := make([]auditEntryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, auditEntryItem{
			AppointmentID:  e.AppointmentID,
			Action:         e.Action,
			ActorID:        e.ActorID,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}
