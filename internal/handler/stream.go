package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
)

const streamHeartbeatInterval = 15 * time.Second

// Stream handles GET /events/{id}/stream
// Pushes admission and check-in updates of one event as server-sent
// events until the client goes away.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	if _, err := h.engine.GetEvent(r.Context(), eventID); err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}

	// Streams outlive the server write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.hub.Subscribe(eventID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("stream flush unsupported", "error", err)
		return
	}

	h.logger.Debug("stream opened", "event_id", eventID, "subscribers", h.hub.Subscribers(eventID))

	ticker := time.NewTicker(streamHeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal live update", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

type qrPayload struct {
	EventID          string `json:"eventId"`
	ConfirmationCode string `json:"confirmationCode"`
}

// ConfirmationQR handles GET /events/{id}/registrations/{code}/qr
// Renders a PNG that a check-in scanner decodes. The payload carries the
// event and code only, never contact details.
func (h *EventHandler) ConfirmationQR(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	code := chi.URLParam(r, "code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "confirmation code is required")
		return
	}
	if _, err := h.engine.GetEvent(r.Context(), eventID); err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	reg, err := h.engine.RegistrationByCode(r.Context(), eventID, code)
	if err != nil {
		h.writeServiceError(w, r, err, "registration not found")
		return
	}

	content, err := json.Marshal(qrPayload{EventID: eventID, ConfirmationCode: reg.ConfirmationCode})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode payload")
		return
	}
	png, err := qrcode.Encode(string(content), qrcode.Medium, 256)
	if err != nil {
		h.logger.Error("render qr code", "event_id", eventID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
