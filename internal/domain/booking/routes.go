package booking

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buycars/buycars-api/internal/middleware"
)

// Routes returns the bookings router. Availability is public.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/availability", h.Availability)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Create)
		r.Get("/my", h.ListMine)
		r.Post("/{id}/cancel", h.Cancel)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireDealer())
			r.Post("/{id}/approve", h.Approve)
			r.Post("/{id}/reject", h.Reject)
			r.Post("/{id}/complete", h.Complete)
		})
	})
	return r
}
