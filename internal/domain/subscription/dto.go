package subscription

import (
	"strings"
	"time"
)

// PlanResponse represents a plan in API responses
type PlanResponse struct {
	Code       string `json:"code"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	PeriodDays int    `json:"period_days"`
}

func PlanResponseFrom(p Plan) *PlanResponse {
	return &PlanResponse{
		Code:       p.Code,
		Price:      p.Price.StringFixed(2),
		Currency:   "KES",
		PeriodDays: int(p.Period / (24 * time.Hour)),
	}
}

// SubscriptionResponse for GET /subscriptions/me
type SubscriptionResponse struct {
	PlanCode      string     `json:"plan_code,omitempty"`
	Status        string     `json:"status"`
	Active        bool       `json:"active"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
}

func SubscriptionResponseFrom(s *Subscription, at time.Time) *SubscriptionResponse {
	if s == nil {
		return &SubscriptionResponse{Status: "NONE"}
	}
	return &SubscriptionResponse{
		PlanCode:      s.PlanCode,
		Status:        string(s.Status),
		Active:        s.IsActive(at),
		StartedAt:     &s.StartedAt,
		ExpiresAt:     &s.ExpiresAt,
		DaysRemaining: s.DaysRemaining(at),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
