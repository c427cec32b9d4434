package statement

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Get returns nil when the statement has not been exported
func (r *Repository) Get(ctx context.Context, userID uuid.UUID, month string) (*Statement, error) {
	var s Statement
	err := r.db.GetContext(ctx, &s, `
		SELECT user_id, month, object_key, entries, created_at
		FROM wallet_statements WHERE user_id = $1 AND month = $2
	`, userID, month)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) Upsert(ctx context.Context, s *Statement) error {
	return r.db.QueryRowxContext(ctx, `
		INSERT INTO wallet_statements (user_id, month, object_key, entries)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, month) DO UPDATE
		SET object_key = EXCLUDED.object_key, entries = EXCLUDED.entries, created_at = NOW()
		RETURNING created_at
	`, s.UserID, s.Month, s.ObjectKey, s.Entries).Scan(&s.CreatedAt)
}
