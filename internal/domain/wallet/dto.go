package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletResponse for GET /wallet
type WalletResponse struct {
	Balance     string    `json:"balance"`
	TotalEarned string    `json:"total_earned"`
	Currency    string    `json:"currency"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func WalletResponseFromEntity(w *Wallet) *WalletResponse {
	return &WalletResponse{
		Balance:     w.Balance.StringFixed(2),
		TotalEarned: w.TotalEarned.StringFixed(2),
		Currency:    "KES",
		UpdatedAt:   w.UpdatedAt,
	}
}

// EntryResponse for GET /wallet/entries
type EntryResponse struct {
	ID          string    `json:"id"`
	Kind        EntryKind `json:"kind"`
	Amount      string    `json:"amount"`
	Gross       *string   `json:"gross,omitempty"`
	Commission  *string   `json:"commission,omitempty"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	CreatedAt   time.Time `json:"created_at"`
}

func EntryResponseFromEntity(e *Entry) *EntryResponse {
	return &EntryResponse{
		ID:          e.ID.String(),
		Kind:        e.Kind,
		Amount:      e.Amount.StringFixed(2),
		Gross:       nullString(e.Gross),
		Commission:  nullString(e.Commission),
		Description: e.Description,
		Reference:   e.Reference,
		CreatedAt:   e.CreatedAt,
	}
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}
