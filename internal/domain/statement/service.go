// Package statement exports monthly wallet statements as CSV to object
// storage and hands out time-limited download links.
package statement

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/pkg/money"
	"github.com/buycars/buycars-api/internal/pkg/storage"
)

// Entries is the ledger read side statements are built from
type Entries interface {
	EntriesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*wallet.Entry, error)
	UsersWithEntriesBetween(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)
}

type Service struct {
	entries Entries
	repo    *Repository
	store   storage.Storage
	urlTTL  time.Duration
	now     func() time.Time
}

func NewService(entries Entries, repo *Repository, store storage.Storage, urlTTL time.Duration) *Service {
	return &Service{
		entries: entries,
		repo:    repo,
		store:   store,
		urlTTL:  urlTTL,
		now:     time.Now,
	}
}

var csvHeader = []string{"date", "type", "description", "reference", "gross", "commission", "amount"}

func render(entries []*wallet.Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}

	credits, debits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.Amount.IsPositive() {
			credits = credits.Add(e.Amount)
		} else {
			debits = debits.Add(e.Amount)
		}
		row := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.Kind),
			e.Description,
			e.Reference,
			nullAmount(e.Gross),
			nullAmount(e.Commission),
			e.Amount.StringFixed(money.Places),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	totals := [][]string{
		{"", "TOTAL", "Credits", "", "", "", credits.StringFixed(money.Places)},
		{"", "TOTAL", "Debits", "", "", "", debits.StringFixed(money.Places)},
		{"", "TOTAL", "Net", "", "", "", credits.Add(debits).StringFixed(money.Places)},
	}
	if err := w.WriteAll(totals); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.Error()
}

func nullAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(money.Places)
}

// Generate writes the user's statement for a closed month and records it.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, m Month) (*Statement, error) {
	if !m.Closed(s.now()) {
		return nil, ErrMonthOpen
	}

	entries, err := s.entries.EntriesBetween(ctx, userID, m.Start(), m.End())
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	data, err := render(entries)
	if err != nil {
		return nil, fmt.Errorf("render statement: %w", err)
	}

	key := objectKey(userID, m)
	if err := s.store.Put(ctx, key, bytes.NewReader(data), "text/csv"); err != nil {
		return nil, fmt.Errorf("upload statement: %w", err)
	}

	st := &Statement{UserID: userID, Month: m.String(), ObjectKey: key, Entries: len(entries)}
	if err := s.repo.Upsert(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// DownloadURL returns a presigned link to the statement, exporting it first
// if needed.
func (s *Service) DownloadURL(ctx context.Context, userID uuid.UUID, m Month) (string, time.Time, error) {
	if !m.Closed(s.now()) {
		return "", time.Time{}, ErrMonthOpen
	}
	st, err := s.repo.Get(ctx, userID, m.String())
	if err != nil {
		return "", time.Time{}, err
	}
	if st != nil {
		if ok, err := s.store.Exists(ctx, st.ObjectKey); err != nil || !ok {
			st = nil
		}
	}
	if st == nil {
		if st, err = s.Generate(ctx, userID, m); err != nil {
			return "", time.Time{}, err
		}
	}

	url, err := s.store.DownloadURL(ctx, st.ObjectKey, s.urlTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, s.now().Add(s.urlTTL), nil
}

// GenerateMonth exports statements for every wallet that moved in m. A failed
// wallet is logged and skipped.
func (s *Service) GenerateMonth(ctx context.Context, m Month) (int, error) {
	users, err := s.entries.UsersWithEntriesBetween(ctx, m.Start(), m.End())
	if err != nil {
		return 0, err
	}

	done := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.Generate(ctx, userID, m); err != nil {
			log.Error().Err(err).
				Str("user_id", userID.String()).
				Str("month", m.String()).
				Msg("failed to export statement")
			continue
		}
		done++
	}

	log.Info().Str("month", m.String()).Int("statements", done).Int("wallets", len(users)).Msg("monthly statements exported")
	return done, nil
}
