package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/models"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.EntryStore
}

type checkInRequest struct {
	RequestID     string `json:"request_id"`
	ClinicID      string `json:"clinic_id"`
	AppointmentID string `json:"appointment_id"`
	PatientName   string `json:"patient_name"`
}

type transitionRequest struct {
	RequestID string `json:"request_id"`
	ActorID   string `json:"actor_id"`
	Notes     string `json:"notes"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.EntryStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/checkins", h.handleCheckIn)
	mux.HandleFunc("/api/queue", h.handleActiveQueue)
	mux.HandleFunc("/api/tickets/status", h.handleTicketStatus)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/entries/", h.handleEntry)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.PatientName = strings.TrimSpace(req.PatientName)

	if req.RequestID == "" || req.ClinicID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and clinic_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.ClinicID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and clinic_id must be UUIDs")
		return
	}
	if req.AppointmentID != "" && !isValidUUID(req.AppointmentID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID when provided")
		return
	}
	if req.PatientName == "" && req.AppointmentID == "" {
		req.PatientName = "Walk-in Patient"
	}

	entry, _, err := h.store.CheckIn(r.Context(), store.CheckInInput{
		RequestID:     req.RequestID,
		ClinicID:      req.ClinicID,
		AppointmentID: req.AppointmentID,
		PatientName:   req.PatientName,
		ArrivedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleActiveQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return
	}
	if !isValidUUID(clinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}

	entries, err := h.store.ActiveQueue(r.Context(), clinicID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	ticketNumber := strings.TrimSpace(r.URL.Query().Get("ticket_number"))
	if clinicID == "" || ticketNumber == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id and ticket_number are required")
		return
	}
	if !isValidUUID(clinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}

	entry, found, err := h.store.GetTicketStatus(r.Context(), clinicID, ticketNumber)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		writeError(w, "", http.StatusNotFound, "entry_not_found", "no entry for this ticket")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return
	}
	if !isValidUUID(clinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}

	var after time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be an RFC 3339 timestamp")
			return
		}
		after = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), clinicID, after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, "", http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "entry id must be a UUID")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGetEntry(w, r, entryID)
		case http.MethodDelete:
			h.handleRemoveEntry(w, r, entryID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, "", http.StatusNotFound, "not_found", "unknown action")
		return
	}

	switch parts[1] {
	case "call":
		h.handleTransition(w, r, entryID, models.StatusServing)
	case "complete":
		h.handleTransition(w, r, entryID, models.StatusDone)
	case "no-show":
		h.handleTransition(w, r, entryID, models.StatusNoShow)
	default:
		writeError(w, "", http.StatusNotFound, "not_found", "unknown action")
	}
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	entry, found, err := h.store.GetEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		writeError(w, "", http.StatusNotFound, "entry_not_found", "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRemoveEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	if err := h.store.RemoveEntry(r.Context(), entryID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, entryID, targetStatus string) {
	var req transitionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	entry, err := h.store.Transition(r.Context(), store.TransitionInput{
		EntryID:      entryID,
		TargetStatus: targetStatus,
		ActorID:      req.ActorID,
		Notes:        req.Notes,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusNotFound, "clinic_not_found", "clinic not found"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "entry not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry state does not allow this transition"
	case errors.Is(err, store.ErrAlreadyTransitioned):
		return http.StatusConflict, "already_transitioned", "entry was updated by another caller, refresh the queue"
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "store unavailable, retry shortly"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error:     responseError{Code: code, Message: message},
	})
}
