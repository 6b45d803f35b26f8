package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router for the public and operator API.
func NewRouter(h *EventHandler, auth *OperatorAuth, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(logger))          // structured access log
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/tables", h.ListTables)
		r.Post("/{id}/register", h.Register)
		r.Get("/{id}/registrations/{code}/qr", h.ConfirmationQR)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Post("/", h.CreateEvent)
			r.Post("/{id}/tables", h.CreateTable)
			r.Patch("/{id}/tables", h.BulkUpdateTables)
			r.Patch("/{id}/tables/{tableID}", h.UpdateTable)
			r.Patch("/{id}/capacity", h.UpdateCapacity)
			r.Patch("/{id}/status", h.UpdateStatus)
			r.Post("/{id}/complete", h.CompleteEvent)
			r.Get("/{id}/registrations", h.ListRegistrations)
			r.Get("/{id}/no-shows", h.NoShows)
			r.Post("/{id}/checkin", h.CheckIn)
			r.Get("/{id}/stream", h.Stream)
		})
	})

	r.Route("/registrations", func(r chi.Router) {
		r.Post("/cancel", h.Cancel)
		r.With(auth.Require).Post("/{id}/restore", h.Restore)
	})

	r.Route("/bans", func(r chi.Router) {
		r.Use(auth.Require)
		r.Post("/", h.CreateBan)
		r.Get("/", h.ListBans)
		r.Post("/{id}/lift", h.LiftBan)
	})

	return r
}
