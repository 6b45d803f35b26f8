// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the admission engine.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/notify"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"github.com/go-chi/chi/v5"
)

// EventHandler holds all HTTP handlers for the admission API.
type EventHandler struct {
	engine *service.Engine
	hub    *notify.Hub
	logger *slog.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(engine *service.Engine, hub *notify.Hub, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventHandler{engine: engine, hub: hub, logger: logger}
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

// emptyIfNil returns an empty slice rather than null for better client
// compatibility.
func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.engine.CreateEvent(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.ListEvents(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

// GetEvent handles GET /events/{id}
// Returns the event with confirmed, waitlisted and remaining counters.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateCapacity handles PATCH /events/{id}/capacity
func (h *EventHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateCapacityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	event, err := h.engine.UpdateEventCapacity(r.Context(), chi.URLParam(r, "id"), req.Capacity)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UpdateStatus handles PATCH /events/{id}/status
func (h *EventHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	event, err := h.engine.SetEventStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// CompleteEvent handles POST /events/{id}/complete
// Closes the event and consumes one unit of each GAME_COUNT ban it turned away.
func (h *EventHandler) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.CompleteEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// NoShows handles GET /events/{id}/no-shows
func (h *EventHandler) NoShows(w http.ResponseWriter, r *http.Request) {
	regs, err := h.engine.NoShows(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(regs))
}

// ─── Tables ───────────────────────────────────────────────────────────────────

// ListTables handles GET /events/{id}/tables
func (h *EventHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.engine.ListTables(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(tables))
}

// CreateTable handles POST /events/{id}/tables
func (h *EventHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	table, err := h.engine.CreateTable(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusCreated, table)
}

// BulkUpdateTables handles PATCH /events/{id}/tables
// Applied and excluded tables are reported individually.
func (h *EventHandler) BulkUpdateTables(w http.ResponseWriter, r *http.Request) {
	var req model.BulkTableUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.engine.BulkUpdateTables(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdateTable handles PATCH /events/{id}/tables/{tableID}
func (h *EventHandler) UpdateTable(w http.ResponseWriter, r *http.Request) {
	var change model.TableChange
	if err := decodeJSON(w, r, &change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	change.TableID = chi.URLParam(r, "tableID")
	table, err := h.engine.UpdateTable(r.Context(), chi.URLParam(r, "id"), change)
	if err != nil {
		h.writeServiceError(w, r, err, "table not found")
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
// A full CAPACITY_BASED event answers 201 with status WAITLIST.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.engine.Register(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// Cancel handles POST /registrations/cancel
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reg, err := h.engine.Cancel(r.Context(), req.Token)
	if err != nil {
		h.writeServiceError(w, r, err, "registration not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Restore handles POST /registrations/{id}/restore
func (h *EventHandler) Restore(w http.ResponseWriter, r *http.Request) {
	reg, err := h.engine.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "registration not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ListRegistrations handles GET /events/{id}/registrations
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.engine.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(regs))
}

// CheckIn handles POST /events/{id}/checkin
// Every resolved scan is a 200; the outcome field carries the verdict.
func (h *EventHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.CheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.engine.CheckIn(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Bans ─────────────────────────────────────────────────────────────────────

// CreateBan handles POST /bans
func (h *EventHandler) CreateBan(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ban, err := h.engine.CreateBan(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "ban not found")
		return
	}
	writeJSON(w, http.StatusCreated, ban)
}

// ListBans handles GET /bans?phone=
func (h *EventHandler) ListBans(w http.ResponseWriter, r *http.Request) {
	bans, err := h.engine.ListBans(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.writeServiceError(w, r, err, "ban not found")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(bans))
}

// LiftBan handles POST /bans/{id}/lift
func (h *EventHandler) LiftBan(w http.ResponseWriter, r *http.Request) {
	ban, err := h.engine.LiftBan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "ban not found or already lifted")
		return
	}
	writeJSON(w, http.StatusOK, ban)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Error mapping ────────────────────────────────────────────────────────────

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{service.ErrEventNotOpen, http.StatusConflict, "EVENT_NOT_OPEN"},
	{service.ErrInvalidSpotsCount, http.StatusBadRequest, "INVALID_SPOTS_COUNT"},
	{service.ErrTableFull, http.StatusConflict, "TABLE_FULL"},
	{service.ErrTableNotAvailable, http.StatusConflict, "TABLE_NOT_AVAILABLE"},
	{service.ErrTableNotFound, http.StatusNotFound, "TABLE_NOT_FOUND"},
	{service.ErrTableRequired, http.StatusBadRequest, "TABLE_REQUIRED"},
	{service.ErrBelowMinOrder, http.StatusBadRequest, "BELOW_MIN_ORDER"},
	{service.ErrCapacityBelowConfirmed, http.StatusConflict, "CAPACITY_BELOW_CONFIRMED"},
	{service.ErrAlreadyRegistered, http.StatusConflict, "ALREADY_REGISTERED"},
	{service.ErrAlreadyCancelled, http.StatusConflict, "ALREADY_CANCELLED"},
	{service.ErrNotCancelled, http.StatusConflict, "NOT_CANCELLED"},
	{service.ErrEventClosed, http.StatusConflict, "EVENT_CLOSED"},
	{service.ErrEventNotCompleted, http.StatusConflict, "EVENT_NOT_COMPLETED"},
	{service.ErrWrongEventType, http.StatusConflict, "WRONG_EVENT_TYPE"},
	{service.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
	{service.ErrContention, http.StatusServiceUnavailable, "CONTENTION"},
}

// writeServiceError maps engine errors to HTTP responses. Ban reasons are
// operator-only and never leave through this path.
func (h *EventHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if service.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: notFound, Code: "NOT_FOUND"})
		return
	}
	var banned *service.BannedError
	if errors.As(err, &banned) {
		h.logger.Info("request refused by ban", "path", r.URL.Path, "ban_id", banned.BanID, "reason", banned.Reason)
		writeJSON(w, http.StatusForbidden, model.ErrorResponse{Error: service.ErrBanned.Error(), Code: "BANNED"})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeJSON(w, m.status, model.ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
