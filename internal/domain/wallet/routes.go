package wallet

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buycars/buycars-api/internal/middleware"
)

// Routes returns the dealer wallet router. statements serves
// GET /statements/{month} when statement export is enabled.
func Routes(h *Handler, statements http.HandlerFunc, authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireDealer())

	r.Get("/", h.Get)
	r.Get("/entries", h.Entries)
	r.Get("/audit", h.Audit)
	if statements != nil {
		r.Get("/statements/{month}", statements)
	}
	return r
}
