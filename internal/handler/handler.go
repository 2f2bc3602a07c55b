// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/eventlock"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/seating"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/service"
	"github.com/go-chi/chi/v5"
)

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc *service.RegistrationService
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc *service.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors to status codes. notFound is the
// message used for repository.ErrNotFound.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, repository.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "you are already registered for this event")
	case errors.Is(err, repository.ErrEventInUse):
		writeError(w, http.StatusConflict, "event still has registrations")
	case errors.Is(err, seating.ErrCapacityExceeded),
		errors.Is(err, seating.ErrSeatExhaustion):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrEventClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, seating.ErrPerRegistrantCap),
		errors.Is(err, seating.ErrInvalidSeatCount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eventlock.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, "event is busy, please retry")
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *RegistrationHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *RegistrationHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *RegistrationHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
// Fails with 409 while registrations still reference the event.
func (h *RegistrationHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRegistrations handles GET /events/{id}/registrations
func (h *RegistrationHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/registrations
// Books seats and returns the registration including its token.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.svc.Register(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// GetRegistration handles GET /registrations/{token}
func (h *RegistrationHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err, "registration not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Confirm handles GET and POST /registrations/{token}/confirm
// GET is accepted because the link is followed from the request e-mail.
func (h *RegistrationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err, "registration not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Modify handles PATCH /registrations/{token}
func (h *RegistrationHandler) Modify(w http.ResponseWriter, r *http.Request) {
	var req model.ModifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.svc.Modify(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		writeServiceError(w, r, err, "registration not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Cancel handles DELETE /registrations/{token}
func (h *RegistrationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeServiceError(w, r, err, "registration not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
