package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// InitiateRequest for POST /payments/initiate
type InitiateRequest struct {
	Phone     string `json:"phone_number" validate:"required,msisdn"`
	Purpose   string `json:"purpose" validate:"required,purpose"`
	PlanCode  string `json:"plan_code" validate:"required_if=Purpose SUBSCRIPTION,omitempty,plan_code"`
	BookingID string `json:"booking_id" validate:"required_if=Purpose BOOKING,omitempty,uuid"`
}

// Target builds the payment variant named by Purpose, ignoring fields that
// belong to the other variant.
func (r *InitiateRequest) Target() (Target, error) {
	switch Purpose(r.Purpose) {
	case PurposeSubscription:
		return SubscriptionTarget{Plan: normalizePlan(r.PlanCode)}, nil
	case PurposeBooking:
		id, err := uuid.Parse(r.BookingID)
		if err != nil {
			return nil, ErrInvalidTarget
		}
		return BookingTarget{BookingID: id}, nil
	}
	return nil, ErrInvalidTarget
}

func normalizePlan(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// InitiateResponse is returned once the push is on the payer's handset
type InitiateResponse struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Status            Status `json:"status"`
	Message           string `json:"message"`
}

// StatusResponse for GET /payments/status
type StatusResponse struct {
	Status      Status `json:"status"`
	Description string `json:"description"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID                string    `json:"id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Amount            string    `json:"amount"`
	Purpose           Purpose   `json:"purpose"`
	PlanCode          string    `json:"plan_code,omitempty"`
	BookingID         string    `json:"booking_id,omitempty"`
	Status            Status    `json:"status"`
	Receipt           string    `json:"receipt,omitempty"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
}

func PaymentResponseFromEntity(p *Payment) *PaymentResponse {
	resp := &PaymentResponse{
		ID:                p.ID.String(),
		CheckoutRequestID: p.CheckoutRequestID,
		Amount:            p.Amount.StringFixed(2),
		Purpose:           p.Purpose,
		PlanCode:          p.PlanCode.String,
		Status:            p.Status,
		Receipt:           p.Receipt.String,
		Description:       p.Description,
		CreatedAt:         p.CreatedAt,
	}
	if p.BookingID.Valid {
		resp.BookingID = p.BookingID.UUID.String()
	}
	return resp
}
