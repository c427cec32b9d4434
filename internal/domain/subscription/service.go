package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/config"
)

// Service handles subscription business logic
type Service struct {
	repo    Repository
	pricing config.Pricing
	now     func() time.Time
}

// NewService creates subscription service
func NewService(repo Repository, pricing config.Pricing) *Service {
	return &Service{repo: repo, pricing: pricing, now: time.Now}
}

// Plans lists the catalog, cheapest first
func (s *Service) Plans() []Plan {
	codes := s.pricing.PlanCodes()
	plans := make([]Plan, 0, len(codes))
	for _, code := range codes {
		price, _ := s.pricing.PlanPrice(code)
		plans = append(plans, Plan{Code: code, Price: price, Period: s.pricing.PlanPeriod})
	}
	return plans
}

// Plan returns one catalog entry
func (s *Service) Plan(code string) (Plan, error) {
	price, ok := s.pricing.PlanPrice(code)
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return Plan{Code: normalizeCode(code), Price: price, Period: s.pricing.PlanPeriod}, nil
}

// ActivateTx starts the plan from now for one plan period inside the caller's
// transaction. Re-activating resets the period from now; periods never stack.
func (s *Service) ActivateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, planCode string, paymentID uuid.UUID) (*Subscription, error) {
	plan, err := s.Plan(planCode)
	if err != nil {
		return nil, err
	}
	if paymentID == uuid.Nil {
		return nil, ErrMissingPayment
	}

	now := s.now().UTC()
	sub := &Subscription{
		UserID:    userID,
		PlanCode:  plan.Code,
		Status:    StatusActive,
		PaymentID: uuid.NullUUID{UUID: paymentID, Valid: true},
		StartedAt: now,
		ExpiresAt: now.Add(plan.Period),
	}
	if err := s.repo.Upsert(ctx, tx, sub); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("plan", sub.PlanCode).
		Str("payment_id", paymentID.String()).
		Time("expires_at", sub.ExpiresAt).
		Msg("subscription activated")
	return sub, nil
}

// Current returns the user's subscription, or ErrNotSubscribed
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNotSubscribed
	}
	return sub, nil
}

// ExpireDue flips lapsed subscriptions to EXPIRED
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireDue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("subscriptions expired")
	}
	return n, nil
}
