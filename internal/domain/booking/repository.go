package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const bookingColumns = `id, car_id, customer_id, start_date, end_date, total_price, status, hold_expires_at, created_at, updated_at`

const assetQuery = `
	SELECT c.id, c.dealer_id, u.phone AS owner_phone, c.title, c.is_for_rent, c.rent_price_per_day, c.min_hire_days
	FROM cars c
	JOIN users u ON u.id = c.dealer_id
	WHERE c.id = $1`

// Repository reads and writes bookings. Methods taking an sqlx.ExtContext run
// on either the pool or a caller's transaction.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAsset(ctx context.Context, assetID uuid.UUID) (*Asset, error) {
	var a Asset
	err := r.db.GetContext(ctx, &a, assetQuery, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAsset serialises every booking decision for one asset until the
// transaction ends.
func (r *Repository) LockAsset(ctx context.Context, tx *sqlx.Tx, assetID uuid.UUID) (*Asset, error) {
	var a Asset
	err := tx.GetContext(ctx, &a, assetQuery+` FOR UPDATE OF c`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindBlocking returns bookings of the asset that overlap rng and currently
// reserve their dates, excluding one booking id (uuid.Nil excludes nothing).
func (r *Repository) FindBlocking(ctx context.Context, q sqlx.ExtContext, assetID uuid.UUID, rng Range, exclude uuid.UUID) ([]*Booking, error) {
	out := []*Booking{}
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE car_id = $1 AND id <> $2
		  AND start_date <= $4 AND end_date >= $3
		  AND (status IN ('APPROVED', 'PAID') OR (status = 'PENDING' AND hold_expires_at > NOW()))
		ORDER BY start_date
	`, assetID, exclude, rng.Start, rng.End)
	return out, err
}

func (r *Repository) Create(ctx context.Context, tx *sqlx.Tx, b *Booking) error {
	return tx.QueryRowxContext(ctx, `
		INSERT INTO bookings (car_id, customer_id, start_date, end_date, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, b.AssetID, b.CustomerID, b.StartDate, b.EndDate, b.TotalPrice, string(b.Status)).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Booking, error) {
	var b Booking
	err := sqlx.GetContext(ctx, q, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) getForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Booking, error) {
	var b Booking
	err := tx.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatus sets the status and drops any payment hold
func (r *Repository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status Status) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $2, hold_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, string(status))
	return err
}

func (r *Repository) SetHold(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, until time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bookings SET hold_expires_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, until)
	return err
}

// ClearExpiredHolds removes holds that are already past their expiry
func (r *Repository) ClearExpiredHolds(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET hold_expires_at = NULL
		WHERE hold_expires_at IS NOT NULL AND hold_expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Booking, error) {
	out := []*Booking{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE customer_id = $1
		ORDER BY created_at DESC
	`, customerID)
	return out, err
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Booking, error) {
	out := []*Booking{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT b.id, b.car_id, b.customer_id, b.start_date, b.end_date, b.total_price, b.status,
		       b.hold_expires_at, b.created_at, b.updated_at
		FROM bookings b
		JOIN cars c ON c.id = b.car_id
		WHERE c.dealer_id = $1
		ORDER BY b.start_date DESC
	`, ownerID)
	return out, err
}

// ReleaseHold drops the hold of a booking still awaiting payment
func (r *Repository) ReleaseHold(ctx context.Context, q sqlx.ExecerContext, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, `
		UPDATE bookings SET hold_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'APPROVED')
	`, id)
	return err
}
