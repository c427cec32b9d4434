package booking

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/jwt"
	"github.com/buycars/buycars-api/internal/pkg/response"
	"github.com/buycars/buycars-api/internal/pkg/validator"
)

// Handler for bookings API
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Availability handles GET /bookings/availability
// @Summary Check whether an asset is free for a date range
// @Tags Booking
// @Produce json
// @Param asset_id query string true "Asset ID"
// @Param start query string true "First day (YYYY-MM-DD)"
// @Param end query string true "Last day (YYYY-MM-DD)"
// @Success 200 {object} response.Response{data=AvailabilityResponse}
// @Failure 400,404,422 {object} response.Response
// @Router /bookings/availability [get]
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assetID, err := uuid.Parse(q.Get("asset_id"))
	if err != nil {
		response.BadRequest(w, "invalid asset_id")
		return
	}
	rng, err := ParseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		response.BadRequest(w, "start and end must be YYYY-MM-DD with end >= start")
		return
	}

	avail, err := h.svc.CheckAvailability(r.Context(), assetID, rng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, AvailabilityResponseFrom(avail))
}

// Create handles POST /bookings
// @Summary Request a booking
// @Tags Booking
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateRequest true "Booking request"
// @Success 201 {object} response.Response{data=BookingResponse}
// @Failure 400,401,409,422 {object} response.Response
// @Router /bookings [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	rng, err := ParseRange(req.StartDate, req.EndDate)
	if err != nil {
		response.ValidationError(w, map[string]string{"end_date": "End date must not be before start date"})
		return
	}

	b, err := h.svc.Create(r.Context(), userID, uuid.MustParse(req.AssetID), rng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, BookingResponseFromEntity(b))
}

// ListMine handles GET /bookings/my. Dealers see bookings of their assets.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	asOwner := middleware.GetRole(r.Context()) == jwt.RoleDealer && r.URL.Query().Get("as") != "customer"

	items, err := h.svc.ListMine(r.Context(), userID, asOwner)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load bookings", err)
		return
	}

	out := make([]*BookingResponse, len(items))
	for i, b := range items {
		out[i] = BookingResponseFromEntity(b)
	}
	response.OK(w, out)
}

// Approve handles POST /bookings/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Approve)
}

// Reject handles POST /bookings/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Reject)
}

// Complete handles POST /bookings/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Complete)
}

// Cancel handles POST /bookings/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Cancel)
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, id uuid.UUID) (*Booking, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid booking id")
		return
	}

	b, err := fn(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, BookingResponseFromEntity(b))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAssetNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrTooShort):
		response.ValidationError(w, map[string]string{"end_date": err.Error()})
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrNotForRent), errors.Is(err, ErrOwnAsset):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, err.Error())
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Booking request failed", err)
	}
}
