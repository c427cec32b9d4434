package subscription

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines subscription data access
type Repository interface {
	Upsert(ctx context.Context, tx *sqlx.Tx, sub *Subscription) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ExpireDue(ctx context.Context) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates subscription repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Upsert(ctx context.Context, tx *sqlx.Tx, sub *Subscription) error {
	return tx.QueryRowxContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_code, status, payment_id, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_code = EXCLUDED.plan_code,
			status = EXCLUDED.status,
			payment_id = EXCLUDED.payment_id,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING updated_at
	`, sub.UserID, sub.PlanCode, string(sub.Status), sub.PaymentID, sub.StartedAt, sub.ExpiresAt).
		Scan(&sub.UpdatedAt)
}

func (r *repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT user_id, plan_code, status, payment_id, started_at, expires_at, updated_at
		FROM subscriptions WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ExpireDue marks lapsed subscriptions as expired
func (r *repository) ExpireDue(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
