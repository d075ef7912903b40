package handlers

import "net/http"

// RegisterRoutes mounts all authenticated API routes on mux.
func RegisterRoutes(mux *http.ServeMux, appts *AppointmentHandler, auditLog *AuditHandler, reminders *ReminderHandler) {
	mux.HandleFunc("POST /api/v1/appointments", appts.Create)
	mux.HandleFunc("GET /api/v1/appointments", appts.List)
	mux.HandleFunc("GET /api/v1/appointments/{id}", appts.Get)
	mux.HandleFunc("POST /api/v1/appointments/{id}/reschedule", appts.Reschedule)
	mux.HandleFunc("POST /api/v1/appointments/{id}/confirm", appts.Confirm)
	mux.HandleFunc("POST /api/v1/appointments/{id}/cancel", appts.Cancel)
	mux.HandleFunc("POST /api/v1/appointments/{id}/complete", appts.Complete)
	mux.HandleFunc("GET /api/v1/slots", appts.Slots)
	mux.HandleFunc("GET /api/v1/audit", auditLog.List)
	mux.HandleFunc("GET /api/v1/internal/reminders/due", reminders.Due)
	mux.HandleFunc("POST /api/v1/internal/reminders/dispatch", reminders.Dispatch)
}
