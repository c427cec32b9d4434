package payout

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const payoutColumns = `id, user_id, amount, phone, status, disbursement_status, originator_conversation_id, conversation_id,
	transaction_id, result_desc, admin_note, reviewed_by, created_at, processed_at, updated_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) create(ctx context.Context, tx *sqlx.Tx, p *Payout) error {
	return tx.QueryRowxContext(ctx, `
		INSERT INTO payouts (user_id, amount, phone, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, disbursement_status, created_at, updated_at
	`, p.UserID, p.Amount, p.Phone, string(p.Status)).
		Scan(&p.ID, &p.DisbursementStatus, &p.CreatedAt, &p.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payout, error) {
	var p Payout
	err := r.db.GetContext(ctx, &p, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) getForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Payout, error) {
	var p Payout
	err := tx.GetContext(ctx, &p, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) review(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status Status, reviewer uuid.UUID, note string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payouts
		SET status = $2, reviewed_by = $3, admin_note = $4, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, string(status), reviewer, note)
	return err
}

// markSubmitting stores the originator id before the B2C request leaves, so
// a result can be matched however early it arrives.
func (r *Repository) markSubmitting(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, originatorID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payouts
		SET disbursement_status = 'SUBMITTING', originator_conversation_id = $2, updated_at = NOW()
		WHERE id = $1
	`, id, originatorID)
	return err
}

// setSubmission records the outcome of the synchronous B2C request. The
// status only moves while still SUBMITTING; a result that already landed
// keeps its outcome. It returns the status the payout ends up with.
func (r *Repository) setSubmission(ctx context.Context, id uuid.UUID, status DisbursementStatus, conversationID sql.NullString, desc string) (DisbursementStatus, error) {
	var final DisbursementStatus
	err := r.db.GetContext(ctx, &final, `
		UPDATE payouts
		SET conversation_id = COALESCE(conversation_id, $3),
		    disbursement_status = CASE WHEN disbursement_status = 'SUBMITTING' THEN $2 ELSE disbursement_status END,
		    result_desc = CASE WHEN disbursement_status = 'SUBMITTING' THEN $4 ELSE result_desc END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING disbursement_status
	`, id, string(status), conversationID, desc)
	return final, err
}

// recordResult applies the asynchronous B2C result once. A payout whose
// request errored locally (FAILED with no conversation id) still takes the
// result, since the gateway may have accepted it before the error. It returns
// nil when no payout awaiting a result matches either id.
func (r *Repository) recordResult(ctx context.Context, res resultKeys, status DisbursementStatus, transactionID sql.NullString, desc string) (*Payout, error) {
	var p Payout
	err := r.db.GetContext(ctx, &p, `
		UPDATE payouts
		SET disbursement_status = $3, transaction_id = $4, result_desc = $5,
		    conversation_id = COALESCE(conversation_id, NULLIF($2, '')), updated_at = NOW()
		WHERE (originator_conversation_id = $1 OR conversation_id = $2)
		  AND (disbursement_status IN ('SUBMITTING', 'SUBMITTED')
		       OR (disbursement_status = 'FAILED' AND conversation_id IS NULL))
		RETURNING `+payoutColumns,
		res.originator, res.conversation, string(status), transactionID, desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) conversationExists(ctx context.Context, res resultKeys) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `
		SELECT EXISTS (SELECT 1 FROM payouts WHERE originator_conversation_id = $1 OR conversation_id = $2)
	`, res.originator, res.conversation)
	return ok, err
}

// resultKeys are the two ids a B2C result can be matched on
type resultKeys struct {
	originator   string
	conversation string
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payout, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM payouts WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}
	items := []*Payout{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+payoutColumns+`
		FROM payouts WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return items, total, err
}

// ListByStatus is the admin review queue, oldest first
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Payout, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM payouts WHERE status = $1`, string(status)); err != nil {
		return nil, 0, err
	}
	items := []*Payout{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+payoutColumns+`
		FROM payouts WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	return items, total, err
}
