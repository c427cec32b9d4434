package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/config"
	"github.com/buycars/buycars-api/internal/domain/booking"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/metrics"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
)

// Gateway is the part of the M-Pesa client payments use
type Gateway interface {
	STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
}

// BookingHolds reserves booking dates while a push is outstanding
type BookingHolds interface {
	PlaceHold(ctx context.Context, bookingID, customerID uuid.UUID) (*booking.Booking, *booking.Asset, error)
	ReleaseHold(ctx context.Context, bookingID uuid.UUID) error
}

// Service starts payments and answers status queries
type Service struct {
	repo     *Repository
	gateway  Gateway
	holds    BookingHolds
	pricing  config.Pricing
	throttle *pushThrottle
}

// NewService creates the payment service. rdb may be nil, which disables the
// per-phone push cooldown.
func NewService(repo *Repository, gateway Gateway, holds BookingHolds, pricing config.Pricing, rdb *redis.Client) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		holds:    holds,
		pricing:  pricing,
		throttle: &pushThrottle{rdb: rdb, ttl: pricing.PushCooldown},
	}
}

type charge struct {
	amount      decimal.Decimal
	accountRef  string
	description string
	release     func()
}

// price resolves what the target costs. Booking targets also take the
// reservation hold, released through charge.release if the push fails.
func (s *Service) price(ctx context.Context, userID uuid.UUID, target Target) (*charge, error) {
	switch t := target.(type) {
	case SubscriptionTarget:
		amount, ok := s.pricing.PlanPrice(t.Plan)
		if !ok {
			return nil, ErrUnknownPlan
		}
		return &charge{
			amount:      amount,
			accountRef:  "Plan " + t.Plan,
			description: "Upgrade to " + t.Plan,
			release:     func() {},
		}, nil

	case BookingTarget:
		b, asset, err := s.holds.PlaceHold(ctx, t.BookingID, userID)
		if err != nil {
			return nil, err
		}
		return &charge{
			// the gateway only carries whole shillings; never charge less than the price
			amount:      b.TotalPrice.RoundCeil(0),
			accountRef:  "BK" + b.ID.String()[:8],
			description: "Rent " + asset.Title,
			release: func() {
				if err := s.holds.ReleaseHold(context.WithoutCancel(ctx), b.ID); err != nil {
					log.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("failed to release booking hold")
				}
			},
		}, nil
	}
	return nil, ErrInvalidTarget
}

// Initiate sends an STK push for the target and records it as PENDING before
// returning. If the gateway refuses, nothing is recorded and the caller may
// retry.
func (s *Service) Initiate(ctx context.Context, userID uuid.UUID, phone string, target Target) (*Payment, error) {
	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if t, ok := target.(SubscriptionTarget); ok {
		target = SubscriptionTarget{Plan: normalizePlan(t.Plan)}
	}

	c, err := s.price(ctx, userID, target)
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues(string(target.Purpose()), "rejected").Inc()
		return nil, err
	}
	if !c.amount.IsPositive() {
		c.release()
		return nil, mpesa.ErrInvalidAmount
	}

	if !s.throttle.acquire(ctx, normalized) {
		c.release()
		metrics.PaymentsInitiated.WithLabelValues(string(target.Purpose()), "throttled").Inc()
		return nil, ErrPushInProgress
	}

	resp, err := s.gateway.STKPush(ctx, mpesa.PushRequest{
		Phone:            normalized,
		Amount:           c.amount,
		AccountReference: c.accountRef,
		Description:      c.description,
	})
	if err != nil {
		s.throttle.release(ctx, normalized)
		c.release()
		metrics.PaymentsInitiated.WithLabelValues(string(target.Purpose()), "gateway_error").Inc()
		return nil, err
	}

	p := &Payment{
		UserID:            userID,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Phone:             normalized,
		Amount:            c.amount,
		Status:            StatusPending,
		Description:       c.description,
	}
	p.setTarget(target)

	// the push is already on the handset, so the record must survive a
	// cancelled request context
	if err := s.repo.Create(context.WithoutCancel(ctx), p); err != nil {
		errorhandler.LogAnomaly(ctx, "unrecorded_push", err, map[string]string{
			"checkout_request_id": resp.CheckoutRequestID,
			"user_id":             userID.String(),
		})
		metrics.PaymentsInitiated.WithLabelValues(string(target.Purpose()), "error").Inc()
		return nil, fmt.Errorf("record payment: %w", err)
	}

	metrics.PaymentsInitiated.WithLabelValues(string(target.Purpose()), "sent").Inc()
	log.Info().
		Str("payment_id", p.ID.String()).
		Str("checkout_request_id", p.CheckoutRequestID).
		Str("user_id", userID.String()).
		Str("purpose", string(p.Purpose)).
		Str("amount", p.Amount.StringFixed(2)).
		Str("phone", mpesa.MaskPhone(normalized)).
		Msg("payment initiated")
	return p, nil
}

// LatestStatus returns the user's most recent payment, or a PENDING
// placeholder when there is none.
func (s *Service) LatestStatus(ctx context.Context, userID uuid.UUID) (*Payment, error) {
	p, err := s.repo.Latest(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Payment{UserID: userID, Status: StatusPending, Description: DescriptionNoneFound}, nil
	}
	return p, err
}

// Get returns one of the user's payments by checkout id
func (s *Service) Get(ctx context.Context, userID uuid.UUID, checkoutRequestID string) (*Payment, error) {
	p, err := s.repo.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrNotOwner
	}
	return p, nil
}

func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func receiptOf(r Result) sql.NullString {
	return sql.NullString{String: r.Receipt, Valid: r.Succeeded() && r.Receipt != ""}
}
