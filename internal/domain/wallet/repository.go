package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, user_id, amount, kind, description, reference, idempotency_key, gross, commission, created_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// lockWallet creates the wallet on first use and locks its row until the
// transaction ends.
func (r *Repository) lockWallet(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Wallet, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, total_earned)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}

	var w Wallet
	err := tx.GetContext(ctx, &w, `
		SELECT user_id, balance, total_earned, updated_at
		FROM wallets WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) findEntryByKey(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, key string) (*Entry, error) {
	var e Entry
	err := tx.GetContext(ctx, &e, `
		SELECT `+entryColumns+`
		FROM wallet_entries
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) updateWallet(ctx context.Context, tx *sqlx.Tx, w *Wallet) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = $2, total_earned = $3, updated_at = NOW()
		WHERE user_id = $1
	`, w.UserID, w.Balance, w.TotalEarned)
	return err
}

func (r *Repository) insertEntry(ctx context.Context, tx *sqlx.Tx, e *Entry) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO wallet_entries (user_id, amount, kind, description, reference, idempotency_key, gross, commission)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, e.UserID, e.Amount, string(e.Kind), e.Description, e.Reference, e.IdempotencyKey, e.Gross, e.Commission).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// GetWallet returns the wallet, or a zero wallet if the user never earned.
func (r *Repository) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	var w Wallet
	err := r.db.GetContext(ctx, &w, `
		SELECT user_id, balance, total_earned, updated_at
		FROM wallets WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Wallet{UserID: userID, Balance: decimal.Zero, TotalEarned: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListEntries returns entries newest first with the total count.
func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM wallet_entries WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}

	entries := []*Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return entries, total, err
}

// EntriesBetween returns entries in [from, to) oldest first.
func (r *Repository) EntriesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*Entry, error) {
	entries := []*Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM wallet_entries
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
	`, userID, from, to)
	return entries, err
}

// UsersWithEntriesBetween lists wallets that moved in [from, to).
func (r *Repository) UsersWithEntriesBetween(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT user_id FROM wallet_entries
		WHERE created_at >= $1 AND created_at < $2
	`, from, to)
	return ids, err
}

// LedgerSum returns the signed sum and count of a wallet's entries.
func (r *Repository) LedgerSum(ctx context.Context, userID uuid.UUID) (decimal.Decimal, int, error) {
	var row struct {
		Sum   decimal.Decimal `db:"sum"`
		Count int             `db:"count"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(amount), 0) AS sum, COUNT(*) AS count
		FROM wallet_entries WHERE user_id = $1
	`, userID)
	return row.Sum, row.Count, err
}
