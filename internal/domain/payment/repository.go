package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, user_id, checkout_request_id, merchant_request_id, phone, amount, purpose, plan_code,
	booking_id, status, mpesa_receipt_number, description, result_code, created_at, updated_at`

// Repository is the payment record store
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, p *Payment) error {
	return r.db.QueryRowxContext(ctx, `
		INSERT INTO payments (user_id, checkout_request_id, merchant_request_id, phone, amount, purpose, plan_code, booking_id, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, p.UserID, p.CheckoutRequestID, p.MerchantRequestID, p.Phone, p.Amount, string(p.Purpose),
		p.PlanCode, p.BookingID, string(p.Status), p.Description).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *Repository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE checkout_request_id = $1`, checkoutRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Latest returns the user's most recent payment
func (r *Repository) Latest(ctx context.Context, userID uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `
		SELECT `+paymentColumns+`
		FROM payments WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM payments WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}

	items := []*Payment{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+paymentColumns+`
		FROM payments WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return items, total, err
}

// ListPendingBefore returns PENDING payments created before the cutoff,
// oldest first.
func (r *Repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error) {
	items := []*Payment{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	return items, err
}

// transition moves a PENDING payment to a terminal status. It returns nil
// when no PENDING row matched, so at most one caller ever gets the row back.
func (r *Repository) transition(ctx context.Context, tx *sqlx.Tx, checkoutRequestID string, status Status, receipt sql.NullString, description string, resultCode int) (*Payment, error) {
	var p Payment
	err := tx.GetContext(ctx, &p, `
		UPDATE payments
		SET status = $2, mpesa_receipt_number = $3, description = $4, result_code = $5, updated_at = NOW()
		WHERE checkout_request_id = $1 AND status = 'PENDING'
		RETURNING `+paymentColumns,
		checkoutRequestID, string(status), receipt, description, resultCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// statusOf returns the stored status, or "" when no payment has the checkout id
func (r *Repository) statusOf(ctx context.Context, tx *sqlx.Tx, checkoutRequestID string) (Status, error) {
	var status Status
	err := tx.GetContext(ctx, &status, `SELECT status FROM payments WHERE checkout_request_id = $1`, checkoutRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return status, err
}

// hasPendingForBooking reports whether another push for the booking is still
// outstanding.
func (r *Repository) hasPendingForBooking(ctx context.Context, tx *sqlx.Tx, bookingID, exclude uuid.UUID) (bool, error) {
	var ok bool
	err := tx.GetContext(ctx, &ok, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1 AND status = 'PENDING' AND id <> $2)
	`, bookingID, exclude)
	return ok, err
}

func (r *Repository) setDescription(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, description string) error {
	_, err := tx.ExecContext(ctx, `UPDATE payments SET description = $2 WHERE id = $1`, id, description)
	return err
}
