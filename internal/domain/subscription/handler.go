package subscription

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/response"
)

// Handler handles subscription HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates subscription handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListPlans handles GET /subscriptions/plans
// @Summary List plans
// @Tags Subscription
// @Produce json
// @Success 200 {object} response.Response{data=[]PlanResponse}
// @Router /subscriptions/plans [get]
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.service.Plans()
	items := make([]*PlanResponse, len(plans))
	for i, p := range plans {
		items[i] = PlanResponseFrom(p)
	}
	response.OK(w, items)
}

// GetCurrent handles GET /subscriptions/me
// @Summary Current subscription
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=SubscriptionResponse}
// @Router /subscriptions/me [get]
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sub, err := h.service.Current(r.Context(), userID)
	if err != nil && !errors.Is(err, ErrNotSubscribed) {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load subscription", err)
		return
	}
	response.OK(w, SubscriptionResponseFrom(sub, h.service.now()))
}

// Routes returns subscription router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/plans", h.ListPlans)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/me", h.GetCurrent)
	})

	return r
}
