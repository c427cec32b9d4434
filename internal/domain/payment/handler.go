package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buycars/buycars-api/internal/domain/booking"
	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/logger"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/response"
	"github.com/buycars/buycars-api/internal/pkg/validator"
)

const callbackTimeout = 20 * time.Second

// Handler handles payment HTTP requests
type Handler struct {
	service    *Service
	reconciler *Reconciler
}

// NewHandler creates payment handler
func NewHandler(service *Service, reconciler *Reconciler) *Handler {
	return &Handler{service: service, reconciler: reconciler}
}

// Initiate handles POST /payments/initiate
// @Summary Start an M-Pesa STK push
// @Description Sends a payment prompt to the payer's phone for a plan or a booking
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InitiateRequest true "Payment request"
// @Success 201 {object} response.Response{data=InitiateResponse}
// @Failure 400,401,403,404,409,422,429,502 {object} response.Response
// @Router /payments/initiate [post]
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req InitiateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	target, err := req.Target()
	if err != nil {
		response.BadRequest(w, "invalid payment target")
		return
	}

	p, err := h.service.Initiate(r.Context(), userID, req.Phone, target)
	if err != nil {
		h.writeInitiateError(w, r, err)
		return
	}

	response.Created(w, InitiateResponse{
		CheckoutRequestID: p.CheckoutRequestID,
		Status:            p.Status,
		Message:           MessagePushSent,
	})
}

func (h *Handler) writeInitiateError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *mpesa.GatewayError
	switch {
	case errors.Is(err, mpesa.ErrInvalidPhone):
		response.ValidationError(w, map[string]string{"phone_number": "Invalid phone number. Use 07XXXXXXXX or 2547XXXXXXXX"})
	case errors.Is(err, mpesa.ErrInvalidAmount):
		response.ValidationError(w, map[string]string{"amount": "Amount must be a whole number of shillings"})
	case errors.Is(err, ErrUnknownPlan):
		response.ValidationError(w, map[string]string{"plan_code": "Unknown plan"})
	case errors.Is(err, booking.ErrNotFound):
		response.NotFound(w, "Booking not found")
	case errors.Is(err, booking.ErrForbidden):
		response.Forbidden(w, "Booking belongs to another user")
	case errors.Is(err, booking.ErrNotPayable):
		response.Conflict(w, "Booking is not awaiting payment")
	case errors.Is(err, booking.ErrConflict):
		response.Conflict(w, "These dates have just been taken")
	case errors.Is(err, booking.ErrPaymentInProgress):
		response.Conflict(w, "A payment for this booking is already in progress. Complete it on your phone or try again shortly.")
	case errors.Is(err, ErrPushInProgress):
		response.TooManyRequests(w, "A payment request was just sent to this phone. Complete it or wait a minute.")
	case errors.As(err, &gwErr):
		errorhandler.LogExternalServiceError(r.Context(), "mpesa", gwErr.Op, gwErr.StatusCode, err, gwErr.Message)
		response.BadGateway(w, "Payment service unavailable, please try again")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Payment could not be started", err)
	}
}

// Status handles GET /payments/status
// @Summary Status of the caller's latest payment
// @Tags Payment
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=StatusResponse}
// @Router /payments/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.LatestStatus(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load payment status", err)
		return
	}
	response.OK(w, StatusResponse{Status: p.Status, Description: p.Description})
}

// History handles GET /payments
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load payments", err)
		return
	}

	out := make([]*PaymentResponse, len(items))
	for i, p := range items {
		out[i] = PaymentResponseFromEntity(p)
	}
	response.WithMeta(w, out, response.Meta{
		Total:  total,
		Limit:  limit,
		Offset: offset,
		More:   offset+len(out) < total,
	})
}

// Get handles GET /payments/{checkoutID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "checkoutID"))
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotOwner) {
		response.NotFound(w, "Payment not found")
		return
	}
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load payment", err)
		return
	}
	response.OK(w, PaymentResponseFromEntity(p))
}

// STKCallback handles POST /webhooks/mpesa/stk. The gateway only needs to
// know the call arrived, so it always gets {"status":"OK"}.
// @Summary M-Pesa STK push callback
// @Tags Payment Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} object{status=string}
// @Router /webhooks/mpesa/stk [post]
func (h *Handler) STKCallback(w http.ResponseWriter, r *http.Request) {
	defer response.Raw(w, http.StatusOK, map[string]string{"status": "OK"})

	cb, err := mpesa.ParseCallback(r.Body)
	if err != nil {
		errorhandler.LogAnomaly(r.Context(), "malformed_callback", err, nil)
		return
	}

	// finish even if Daraja hangs up
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callbackTimeout)
	defer cancel()

	outcome, err := h.reconciler.Reconcile(ctx, ResultFromCallback(cb))
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).
			Str("checkout_request_id", cb.CheckoutRequestID).
			Msg("Failed to reconcile callback, the sweeper will retry")
		return
	}
	logger.FromContext(r.Context()).Debug().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("outcome", outcome.String()).
		Msg("Callback processed")
}

// Routes returns payment router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/initiate", h.Initiate)
	r.Get("/status", h.Status)
	r.Get("/", h.History)
	r.Get("/{checkoutID}", h.Get)

	return r
}
