package payout

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/logger"
	"github.com/buycars/buycars-api/internal/pkg/money"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/response"
	"github.com/buycars/buycars-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Request handles POST /payouts
// @Summary Withdraw wallet balance to M-Pesa
// @Tags Payout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RequestPayout true "Payout request"
// @Success 201 {object} response.Response{data=PayoutResponse}
// @Failure 400,401,403,409,422 {object} response.Response
// @Router /payouts [post]
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req RequestPayout
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		response.ValidationError(w, map[string]string{"amount": err.Error()})
		return
	}

	p, err := h.svc.Request(r.Context(), userID, amount, req.Phone)
	switch {
	case err == nil:
		response.Created(w, PayoutResponseFromEntity(p))
	case errors.Is(err, ErrBelowMinimum), errors.Is(err, ErrInvalidAmount):
		response.ValidationError(w, map[string]string{"amount": capitalize(err.Error())})
	case errors.Is(err, mpesa.ErrInvalidPhone):
		response.ValidationError(w, map[string]string{"phone_number": "Invalid phone number. Use 07XXXXXXXX or 2547XXXXXXXX"})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		response.Conflict(w, "Insufficient balance.")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to request payout", err)
	}
}

// ListMine handles GET /payouts
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	items, total, err := h.svc.ListMine(r.Context(), middleware.GetUserID(r.Context()), limit, offset)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load payouts", err)
		return
	}
	h.writeList(w, items, total, limit, offset)
}

// AdminList handles GET /admin/payouts?status=PENDING
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	status := Status(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "":
		status = StatusPending
	case StatusPending, StatusProcessed, StatusRejected:
	default:
		response.BadRequest(w, "status must be PENDING, PROCESSED or REJECTED")
		return
	}

	limit, offset := pagination(r)
	items, total, err := h.svc.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load payouts", err)
		return
	}
	h.writeList(w, items, total, limit, offset)
}

// Approve handles POST /admin/payouts/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid payout id")
		return
	}
	p, err := h.svc.Approve(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.writeReviewError(w, r, err)
		return
	}
	response.OK(w, PayoutResponseFromEntity(p))
}

// Reject handles POST /admin/payouts/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid payout id")
		return
	}
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return
		}
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	p, err := h.svc.Reject(r.Context(), middleware.GetUserID(r.Context()), id, strings.TrimSpace(req.Note))
	if err != nil {
		h.writeReviewError(w, r, err)
		return
	}
	response.OK(w, PayoutResponseFromEntity(p))
}

func (h *Handler) writeReviewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Payout not found")
	case errors.Is(err, ErrNotPending):
		response.Conflict(w, "Payout has already been reviewed")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to review payout", err)
	}
}

// B2CResult handles POST /webhooks/mpesa/b2c/result and /timeout. Like the
// STK callback it always acknowledges.
func (h *Handler) B2CResult(w http.ResponseWriter, r *http.Request) {
	defer response.Raw(w, http.StatusOK, map[string]string{"status": "OK"})

	res, err := mpesa.ParseB2CResult(r.Body)
	if err != nil {
		errorhandler.LogAnomaly(r.Context(), "malformed_b2c_result", err, nil)
		return
	}

	applied, err := h.svc.RecordDisbursementResult(r.Context(), res)
	switch {
	case errors.Is(err, ErrUnknownConversation):
		errorhandler.LogAnomaly(r.Context(), "unknown_conversation", err, map[string]string{
			"conversation_id":            res.ConversationID,
			"originator_conversation_id": res.OriginatorConversationID,
		})
	case err != nil:
		logger.FromContext(r.Context()).Error().Err(err).
			Str("conversation_id", res.ConversationID).
			Msg("Failed to record disbursement result")
	case !applied:
		logger.FromContext(r.Context()).Debug().
			Str("conversation_id", res.ConversationID).
			Msg("Duplicate disbursement result ignored")
	}
}

func (h *Handler) writeList(w http.ResponseWriter, items []*Payout, total, limit, offset int) {
	out := make([]*PayoutResponse, len(items))
	for i, p := range items {
		out[i] = PayoutResponseFromEntity(p)
	}
	response.WithMeta(w, out, response.Meta{
		Total:  total,
		Limit:  limit,
		Offset: offset,
		More:   offset+len(out) < total,
	})
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return clampLimit(limit), max(offset, 0)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
