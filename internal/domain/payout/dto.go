package payout

import (
	"time"

	"github.com/buycars/buycars-api/internal/pkg/money"
)

// RequestPayout is the body of POST /payouts
type RequestPayout struct {
	Amount string `json:"amount" validate:"required,amount"`
	Phone  string `json:"phone_number" validate:"required,msisdn"`
}

// RejectRequest is the body of POST /admin/payouts/{id}/reject
type RejectRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type PayoutResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Amount             string     `json:"amount"`
	Phone              string     `json:"phone"`
	Status             Status     `json:"status"`
	DisbursementStatus string     `json:"disbursement_status"`
	TransactionID      string     `json:"transaction_id,omitempty"`
	AdminNote          string     `json:"admin_note,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
}

func PayoutResponseFromEntity(p *Payout) *PayoutResponse {
	resp := &PayoutResponse{
		ID:                 p.ID.String(),
		UserID:             p.UserID.String(),
		Amount:             p.Amount.StringFixed(money.Places),
		Phone:              p.Phone,
		Status:             p.Status,
		DisbursementStatus: string(p.DisbursementStatus),
		TransactionID:      p.TransactionID.String,
		AdminNote:          p.AdminNote,
		CreatedAt:          p.CreatedAt,
	}
	if p.ProcessedAt.Valid {
		resp.ProcessedAt = &p.ProcessedAt.Time
	}
	return resp
}
