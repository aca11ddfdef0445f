package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/guzmanclinic/anabot/internal/conversation"
	"github.com/guzmanclinic/anabot/internal/scheduling"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

// AdminHandler serves the backoffice read API over conversation logs,
// contact requests and appointments, plus the two status actions the clinic
// staff performs (confirm a pending registration, cancel a booking).
type AdminHandler struct {
	logs   *conversation.LogStore
	coord  *scheduling.Coordinator
	logger *logging.Logger
}

func NewAdminHandler(logs *conversation.LogStore, coord *scheduling.Coordinator, logger *logging.Logger) *AdminHandler {
	if logs == nil || coord == nil {
		panic("handlers: admin dependencies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{logs: logs, coord: coord, logger: logger}
}

// ListConversations returns the newest audit rows, optionally filtered with
// ?channel=wa|tg and bounded with ?limit=N.
func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.logs.RecentLogs(r.Context(), r.URL.Query().Get("channel"), limit)
	if err != nil {
		h.logger.Error("conversation listing failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": logs, "count": len(logs)})
}

// ListContactRequests returns open escalations, urgent first.
func (h *AdminHandler) ListContactRequests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reqs, err := h.logs.PendingContactRequests(r.Context(), limit)
	if err != nil {
		h.logger.Error("contact request listing failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"contact_requests": reqs, "count": len(reqs)})
}

// ConfirmAppointment promotes a PENDING registration to CONFIRMED.
func (h *AdminHandler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	appt, err := h.coord.Confirm(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			http.Error(w, "no pending appointment with that id", http.StatusNotFound)
			return
		}
		h.logger.Error("appointment confirmation failed", "error", err, "appointment_id", id)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, appointmentResponse(appt))
}

// CancelAppointment cancels an active booking on behalf of the clinic.
func (h *AdminHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	appt, err := h.coord.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			http.Error(w, "no active appointment with that id", http.StatusNotFound)
			return
		}
		h.logger.Error("appointment cancellation failed", "error", err, "appointment_id", id)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, appointmentResponse(appt))
}

func appointmentResponse(a *scheduling.Appointment) map[string]any {
	return map[string]any{
		"id":                a.ID,
		"patient_dni":       a.PatientDNI,
		"site":              a.Site,
		"starts_at":         a.StartsAt,
		"duration_minutes":  a.DurationMinutes,
		"status":            a.Status,
		"reminder_channel":  a.ReminderChannel,
		"cancel_reason":     a.CancelReason,
		"calendar_event_id": a.CalendarEventID,
		"calendar_link":     a.CalendarLink,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
