// Package settlement applies the effects of a confirmed payment: a plan
// activation or a paid booking with the owner's wallet credit.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/domain/booking"
	"github.com/buycars/buycars-api/internal/domain/payment"
	"github.com/buycars/buycars-api/internal/domain/subscription"
	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/pkg/notify"
)

// Anomaly kinds reported for payments that were collected but cannot settle
const (
	KindInvalidTarget     = "invalid_target"
	KindUnknownPlan       = "unknown_plan"
	KindBookingMissing    = "booking_missing"
	KindBookingNotPayable = "booking_not_payable"
	KindBookingConflict   = "booking_conflict"
	KindLedgerConflict    = "ledger_conflict"
)

type Plans interface {
	ActivateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, planCode string, paymentID uuid.UUID) (*subscription.Subscription, error)
}

type Bookings interface {
	MarkPaidTx(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID) (*booking.Booking, *booking.Asset, error)
	ReleaseHoldTx(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID) error
}

type Ledger interface {
	CreditTx(ctx context.Context, tx *sqlx.Tx, in wallet.CreditInput) (*wallet.CreditResult, error)
}

// Orchestrator implements payment.Settler
type Orchestrator struct {
	plans          Plans
	bookings       Bookings
	ledger         Ledger
	commissionRate decimal.Decimal
}

var (
	_ payment.Settler      = (*Orchestrator)(nil)
	_ payment.HoldReleaser = (*Orchestrator)(nil)
)

func NewOrchestrator(plans Plans, bookings Bookings, ledger Ledger, commissionRate decimal.Decimal) *Orchestrator {
	return &Orchestrator{
		plans:          plans,
		bookings:       bookings,
		ledger:         ledger,
		commissionRate: commissionRate,
	}
}

// SettleTx runs inside the reconciliation transaction. The returned messages
// are sent only after it commits.
func (o *Orchestrator) SettleTx(ctx context.Context, tx *sqlx.Tx, p *payment.Payment) ([]notify.Message, error) {
	target, err := p.Target()
	if err != nil {
		return nil, anomaly(KindInvalidTarget, err)
	}

	switch t := target.(type) {
	case payment.SubscriptionTarget:
		return o.activatePlan(ctx, tx, p, t)
	case payment.BookingTarget:
		return o.payBooking(ctx, tx, p, t)
	default:
		return nil, anomaly(KindInvalidTarget, fmt.Errorf("unhandled target %T", target))
	}
}

// ReleaseTx frees the dates a failed booking payment was holding so the
// customer can pay again straight away.
func (o *Orchestrator) ReleaseTx(ctx context.Context, tx *sqlx.Tx, p *payment.Payment) error {
	target, err := p.Target()
	if err != nil {
		return nil
	}
	if t, ok := target.(payment.BookingTarget); ok {
		return o.bookings.ReleaseHoldTx(ctx, tx, t.BookingID)
	}
	return nil
}

func (o *Orchestrator) activatePlan(ctx context.Context, tx *sqlx.Tx, p *payment.Payment, t payment.SubscriptionTarget) ([]notify.Message, error) {
	if _, err := o.plans.ActivateTx(ctx, tx, p.UserID, t.Plan, p.ID); err != nil {
		if errors.Is(err, subscription.ErrUnknownPlan) {
			return nil, anomaly(KindUnknownPlan, err)
		}
		return nil, fmt.Errorf("activate plan: %w", err)
	}
	return []notify.Message{
		notify.PlanActivated(p.UserID.String(), p.Phone, p.Receipt.String),
	}, nil
}

func (o *Orchestrator) payBooking(ctx context.Context, tx *sqlx.Tx, p *payment.Payment, t payment.BookingTarget) ([]notify.Message, error) {
	b, asset, err := o.bookings.MarkPaidTx(ctx, tx, t.BookingID)
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, booking.ErrAssetNotFound):
		return nil, anomaly(KindBookingMissing, err)
	case errors.Is(err, booking.ErrNotPayable):
		return nil, anomaly(KindBookingNotPayable, err)
	case errors.Is(err, booking.ErrConflict):
		return nil, anomaly(KindBookingConflict, err)
	case err != nil:
		return nil, fmt.Errorf("mark booking paid: %w", err)
	}

	credit, err := o.ledger.CreditTx(ctx, tx, wallet.CreditInput{
		UserID:      asset.OwnerID,
		Gross:       p.Amount,
		Rate:        o.commissionRate,
		Description: "Rental Income: " + asset.Title,
		Reference:   "Booking #" + b.ID.String(),
		Key:         "payment:" + p.CheckoutRequestID + ":owner",
	})
	if errors.Is(err, wallet.ErrReferenceConflict) {
		return nil, anomaly(KindLedgerConflict, err)
	}
	if err != nil {
		return nil, fmt.Errorf("credit owner: %w", err)
	}

	msgs := []notify.Message{
		notify.BookingConfirmed(p.UserID.String(), p.Phone, p.Receipt.String),
	}
	if credit.Applied && asset.OwnerPhone.Valid && asset.OwnerPhone.String != "" {
		msgs = append(msgs, notify.OwnerCredited(asset.OwnerID.String(), asset.OwnerPhone.String,
			"Booking #"+b.ID.String(), credit.Net, credit.Balance))
	}
	return msgs, nil
}

func anomaly(kind string, err error) error {
	return &payment.AnomalyError{Kind: kind, Err: err}
}
