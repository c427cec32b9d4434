package payout

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buycars/buycars-api/internal/middleware"
)

// Routes returns the dealer payout router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireDealer())

	r.Post("/", h.Request)
	r.Get("/", h.ListMine)
	return r
}

// AdminRoutes returns the payout review router
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())

	r.Get("/", h.AdminList)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	return r
}
