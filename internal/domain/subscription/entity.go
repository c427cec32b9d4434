package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents subscription status
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
)

// Subscription is a user's current plan. There is at most one per user;
// activating again replaces it.
type Subscription struct {
	UserID    uuid.UUID     `db:"user_id" json:"user_id"`
	PlanCode  string        `db:"plan_code" json:"plan_code"`
	Status    Status        `db:"status" json:"status"`
	PaymentID uuid.NullUUID `db:"payment_id" json:"payment_id"`
	StartedAt time.Time     `db:"started_at" json:"started_at"`
	ExpiresAt time.Time     `db:"expires_at" json:"expires_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// IsActive checks if subscription is usable at the given time
func (s *Subscription) IsActive(at time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt.After(at)
}

// DaysRemaining returns whole days left, rounded up
func (s *Subscription) DaysRemaining(at time.Time) int {
	if !s.IsActive(at) {
		return 0
	}
	left := s.ExpiresAt.Sub(at)
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Plan is a purchasable plan from the pricing catalog
type Plan struct {
	Code   string
	Price  decimal.Decimal
	Period time.Duration
}
