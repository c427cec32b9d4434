package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind is the direction of a ledger entry
type EntryKind string

const (
	EntryCredit EntryKind = "CREDIT"
	EntryDebit  EntryKind = "DEBIT"
)

// Wallet is a payee's running balance
type Wallet struct {
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	TotalEarned decimal.Decimal `db:"total_earned" json:"total_earned"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Entry is one immutable ledger line. Amount is signed: credits are positive,
// debits negative.
type Entry struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	UserID         uuid.UUID           `db:"user_id" json:"user_id"`
	Amount         decimal.Decimal     `db:"amount" json:"amount"`
	Kind           EntryKind           `db:"kind" json:"kind"`
	Description    string              `db:"description" json:"description"`
	Reference      string              `db:"reference" json:"reference"`
	IdempotencyKey string              `db:"idempotency_key" json:"-"`
	Gross          decimal.NullDecimal `db:"gross" json:"gross,omitempty"`
	Commission     decimal.NullDecimal `db:"commission" json:"commission,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

// CreditInput describes earnings to split and credit. Key makes the credit
// idempotent per wallet.
type CreditInput struct {
	UserID      uuid.UUID
	Gross       decimal.Decimal
	Rate        decimal.Decimal
	Description string
	Reference   string
	Key         string
}

// DebitInput describes a withdrawal, or with RestoreTx, its reversal.
type DebitInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Description string
	Reference   string
	Key         string
}

// CreditResult reports what a credit did. Applied is false when the key had
// already been used with the same amount.
type CreditResult struct {
	Entry      *Entry
	Net        decimal.Decimal
	Commission decimal.Decimal
	Balance    decimal.Decimal
	Applied    bool
}

// AuditReport compares the stored balance with the ledger
type AuditReport struct {
	UserID     uuid.UUID       `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Difference decimal.Decimal `json:"difference"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
}
