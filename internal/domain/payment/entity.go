package payment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents payment status
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Purpose says what a payment buys
type Purpose string

const (
	PurposeSubscription Purpose = "SUBSCRIPTION"
	PurposeBooking      Purpose = "BOOKING"
)

// Payment is one STK push and its outcome. CheckoutRequestID is issued by the
// gateway and correlates the asynchronous callback.
type Payment struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	UserID            uuid.UUID       `db:"user_id" json:"user_id"`
	CheckoutRequestID string          `db:"checkout_request_id" json:"checkout_request_id"`
	MerchantRequestID string          `db:"merchant_request_id" json:"merchant_request_id"`
	Phone             string          `db:"phone" json:"phone"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Purpose           Purpose         `db:"purpose" json:"purpose"`
	PlanCode          sql.NullString  `db:"plan_code" json:"plan_code"`
	BookingID         uuid.NullUUID   `db:"booking_id" json:"booking_id"`
	Status            Status          `db:"status" json:"status"`
	Receipt           sql.NullString  `db:"mpesa_receipt_number" json:"receipt"`
	Description       string          `db:"description" json:"description"`
	ResultCode        sql.NullInt32   `db:"result_code" json:"result_code"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the outcome has been applied
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusSuccess || p.Status == StatusFailed
}

// Target is what a payment settles. It is one of SubscriptionTarget or
// BookingTarget.
type Target interface {
	Purpose() Purpose
	isTarget()
}

// SubscriptionTarget activates a plan for the payer
type SubscriptionTarget struct {
	Plan string
}

func (SubscriptionTarget) Purpose() Purpose { return PurposeSubscription }
func (SubscriptionTarget) isTarget()        {}

// BookingTarget pays for a booking and credits the asset owner
type BookingTarget struct {
	BookingID uuid.UUID
}

func (BookingTarget) Purpose() Purpose { return PurposeBooking }
func (BookingTarget) isTarget()        {}

// Target rebuilds the variant from the stored columns.
func (p *Payment) Target() (Target, error) {
	switch p.Purpose {
	case PurposeSubscription:
		if !p.PlanCode.Valid || p.PlanCode.String == "" {
			return nil, fmt.Errorf("%w: subscription payment without plan", ErrInvalidTarget)
		}
		return SubscriptionTarget{Plan: p.PlanCode.String}, nil
	case PurposeBooking:
		if !p.BookingID.Valid {
			return nil, fmt.Errorf("%w: booking payment without booking", ErrInvalidTarget)
		}
		return BookingTarget{BookingID: p.BookingID.UUID}, nil
	}
	return nil, fmt.Errorf("%w: purpose %q", ErrInvalidTarget, p.Purpose)
}

func (p *Payment) setTarget(t Target) {
	p.Purpose = t.Purpose()
	switch t := t.(type) {
	case SubscriptionTarget:
		p.PlanCode = sql.NullString{String: t.Plan, Valid: true}
	case BookingTarget:
		p.BookingID = uuid.NullUUID{UUID: t.BookingID, Valid: true}
	}
}

// Result is a terminal answer from the gateway, either a callback or a
// status query.
type Result struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            decimal.Decimal
	Source            string
}

// Succeeded reports whether the payer completed the payment
func (r Result) Succeeded() bool {
	return r.ResultCode == 0
}

// Outcome is what Reconcile did with a Result
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeAlreadyApplied
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeUnknown:
		return "unknown"
	}
	return "invalid"
}

// Descriptions shown to the payer when polling
const (
	DescriptionConfirmed   = "Payment confirmed"
	DescriptionNeedsReview = "Payment received, settlement needs review"
	DescriptionExpired     = "Payment request expired"
	DescriptionNoneFound   = "No transaction found"
	MessagePushSent        = "STK Push sent! Check your phone."
	sourceCallback         = "callback"
	sourceSweep            = "sweep"
)
