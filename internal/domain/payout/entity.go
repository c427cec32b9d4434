package payout

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the review state of a payout request
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusRejected  Status = "REJECTED"
)

// DisbursementStatus tracks the B2C transfer after approval
type DisbursementStatus string

const (
	DisbursementNone       DisbursementStatus = "NONE"
	DisbursementSubmitting DisbursementStatus = "SUBMITTING"
	DisbursementSubmitted  DisbursementStatus = "SUBMITTED"
	DisbursementSucceeded  DisbursementStatus = "SUCCEEDED"
	DisbursementFailed     DisbursementStatus = "FAILED"
)

// Payout is a dealer's request to withdraw wallet balance to M-Pesa. The
// amount is reserved with a wallet debit when the request is made.
//
// OriginatorConversationID is ours and is stored before the B2C request is
// sent; ConversationID is assigned by the gateway. A result may carry either.
type Payout struct {
	ID                       uuid.UUID          `db:"id"`
	UserID                   uuid.UUID          `db:"user_id"`
	Amount                   decimal.Decimal    `db:"amount"`
	Phone                    string             `db:"phone"`
	Status                   Status             `db:"status"`
	DisbursementStatus       DisbursementStatus `db:"disbursement_status"`
	OriginatorConversationID sql.NullString     `db:"originator_conversation_id"`
	ConversationID           sql.NullString     `db:"conversation_id"`
	TransactionID            sql.NullString     `db:"transaction_id"`
	ResultDesc               string             `db:"result_desc"`
	AdminNote                string             `db:"admin_note"`
	ReviewedBy               uuid.NullUUID      `db:"reviewed_by"`
	CreatedAt                time.Time          `db:"created_at"`
	ProcessedAt              sql.NullTime       `db:"processed_at"`
	UpdatedAt                time.Time          `db:"updated_at"`
}

func (p *Payout) IsPending() bool {
	return p.Status == StatusPending
}

// originatorID names the B2C request for a payout. One payout is disbursed at
// most once, so its id is unique enough.
func originatorID(id uuid.UUID) string {
	return "payout-" + id.String()
}

func reserveKey(id uuid.UUID) string {
	return "payout:" + id.String() + ":reserve"
}

func reverseKey(id uuid.UUID) string {
	return "payout:" + id.String() + ":reverse"
}

// Ledger texts
const (
	descriptionRequest  = "Payout Request"
	referenceRequest    = "Pending Approval"
	descriptionReversal = "Payout Reversed"
	referenceReversal   = "payout reversed"
)
