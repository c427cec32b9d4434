package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/pkg/database"
	"github.com/buycars/buycars-api/internal/pkg/metrics"
	"github.com/buycars/buycars-api/internal/pkg/money"
)

// Service is the wallet ledger. Every mutation locks the wallet row, checks
// the idempotency key, then writes the entry and the new balance in the same
// transaction.
type Service struct {
	db   *sqlx.DB
	repo *Repository
}

func NewService(db *sqlx.DB, repo *Repository) *Service {
	return &Service{db: db, repo: repo}
}

type mutation struct {
	userID      uuid.UUID
	amount      decimal.Decimal // signed
	kind        EntryKind
	earned      decimal.Decimal // added to total_earned
	description string
	reference   string
	key         string
	gross       decimal.NullDecimal
	commission  decimal.NullDecimal
}

// apply returns the entry and the wallet after the mutation. applied is false
// when an entry with the same key and amount already exists.
func (s *Service) apply(ctx context.Context, tx *sqlx.Tx, m mutation) (*Entry, *Wallet, bool, error) {
	if m.key == "" {
		return nil, nil, false, ErrMissingKey
	}

	w, err := s.repo.lockWallet(ctx, tx, m.userID)
	if err != nil {
		return nil, nil, false, err
	}

	existing, err := s.repo.findEntryByKey(ctx, tx, m.userID, m.key)
	if err != nil {
		return nil, nil, false, err
	}
	if existing != nil {
		if !existing.Amount.Equal(m.amount) || existing.Kind != m.kind {
			return nil, nil, false, ErrReferenceConflict
		}
		return existing, w, false, nil
	}

	next := w.Balance.Add(m.amount)
	if next.IsNegative() {
		return nil, nil, false, ErrInsufficientFunds
	}

	e := &Entry{
		UserID:         m.userID,
		Amount:         m.amount,
		Kind:           m.kind,
		Description:    m.description,
		Reference:      m.reference,
		IdempotencyKey: m.key,
		Gross:          m.gross,
		Commission:     m.commission,
	}
	if err := s.repo.insertEntry(ctx, tx, e); err != nil {
		return nil, nil, false, err
	}

	w.Balance = next
	w.TotalEarned = w.TotalEarned.Add(m.earned)
	if err := s.repo.updateWallet(ctx, tx, w); err != nil {
		return nil, nil, false, err
	}

	metrics.LedgerEntries.WithLabelValues(string(m.kind)).Inc()
	return e, w, true, nil
}

// CreditTx splits gross at the commission rate and credits the net share
// inside the caller's transaction.
func (s *Service) CreditTx(ctx context.Context, tx *sqlx.Tx, in CreditInput) (*CreditResult, error) {
	if err := money.Validate(in.Gross); err != nil {
		return nil, ErrInvalidAmount
	}
	if in.Rate.IsNegative() || in.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidRate
	}

	net, commission := money.Split(in.Gross, in.Rate)
	if !net.IsPositive() {
		return nil, ErrInvalidAmount
	}

	e, w, applied, err := s.apply(ctx, tx, mutation{
		userID:      in.UserID,
		amount:      net,
		kind:        EntryCredit,
		earned:      net,
		description: in.Description,
		reference:   in.Reference,
		key:         in.Key,
		gross:       decimal.NewNullDecimal(in.Gross),
		commission:  decimal.NewNullDecimal(commission),
	})
	if err != nil {
		return nil, err
	}

	return &CreditResult{
		Entry:      e,
		Net:        net,
		Commission: commission,
		Balance:    w.Balance,
		Applied:    applied,
	}, nil
}

// Credit runs CreditTx in its own transaction.
func (s *Service) Credit(ctx context.Context, in CreditInput) (*CreditResult, error) {
	var res *CreditResult
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		res, err = s.CreditTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Applied {
		log.Info().
			Str("user_id", in.UserID.String()).
			Str("net", res.Net.StringFixed(money.Places)).
			Str("commission", res.Commission.StringFixed(money.Places)).
			Str("reference", in.Reference).
			Msg("wallet credit applied")
	}
	return res, nil
}

// DebitTx removes amount from the balance, failing with ErrInsufficientFunds
// rather than going negative.
func (s *Service) DebitTx(ctx context.Context, tx *sqlx.Tx, in DebitInput) (*Entry, error) {
	if err := money.Validate(in.Amount); err != nil {
		return nil, ErrInvalidAmount
	}
	e, _, _, err := s.apply(ctx, tx, mutation{
		userID:      in.UserID,
		amount:      in.Amount.Neg(),
		kind:        EntryDebit,
		earned:      decimal.Zero,
		description: in.Description,
		reference:   in.Reference,
		key:         in.Key,
	})
	return e, err
}

// Debit runs DebitTx in its own transaction.
func (s *Service) Debit(ctx context.Context, in DebitInput) (*Entry, error) {
	var e *Entry
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		e, err = s.DebitTx(ctx, tx, in)
		return err
	})
	return e, err
}

// RestoreTx posts a compensating credit for an earlier debit. It is not
// earnings, so total_earned is left unchanged.
func (s *Service) RestoreTx(ctx context.Context, tx *sqlx.Tx, in DebitInput) (*Entry, error) {
	if err := money.Validate(in.Amount); err != nil {
		return nil, ErrInvalidAmount
	}
	e, _, _, err := s.apply(ctx, tx, mutation{
		userID:      in.UserID,
		amount:      in.Amount,
		kind:        EntryCredit,
		earned:      decimal.Zero,
		description: in.Description,
		reference:   in.Reference,
		key:         in.Key,
	})
	return e, err
}

func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return s.repo.GetWallet(ctx, userID)
}

func (s *Service) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntries(ctx, userID, limit, offset)
}

// Audit checks that the balance equals the signed sum of the ledger.
func (s *Service) Audit(ctx context.Context, userID uuid.UUID) (*AuditReport, error) {
	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, count, err := s.repo.LedgerSum(ctx, userID)
	if err != nil {
		return nil, err
	}

	diff := w.Balance.Sub(sum)
	report := &AuditReport{
		UserID:     userID,
		Balance:    w.Balance,
		LedgerSum:  sum,
		Difference: diff,
		Entries:    count,
		Consistent: diff.IsZero(),
	}
	if !report.Consistent {
		log.Error().
			Str("user_id", userID.String()).
			Str("balance", w.Balance.String()).
			Str("ledger_sum", sum.String()).
			Msg("wallet balance does not match ledger")
	}
	return report, nil
}
