package statement

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type DownloadResponse struct {
	Month     string    `json:"month"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Download handles GET /wallet/statements/{month}
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	m, err := ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		response.BadRequest(w, "Invalid month, expected YYYY-MM")
		return
	}

	url, expires, err := h.svc.DownloadURL(r.Context(), middleware.GetUserID(r.Context()), m)
	if errors.Is(err, ErrMonthOpen) {
		response.Conflict(w, "Statements are available once the month has ended")
		return
	}
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to prepare statement", err)
		return
	}
	response.OK(w, DownloadResponse{Month: m.String(), URL: url, ExpiresAt: expires})
}
