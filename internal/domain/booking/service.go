package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/pkg/database"
)

// Service decides availability and drives the booking lifecycle. Every
// decision that could admit an overlapping booking runs under the asset row
// lock.
type Service struct {
	db      *sqlx.DB
	repo    *Repository
	holdTTL time.Duration
	now     func() time.Time
}

func NewService(db *sqlx.DB, repo *Repository, holdTTL time.Duration) *Service {
	return &Service{db: db, repo: repo, holdTTL: holdTTL, now: time.Now}
}

func checkBookable(a *Asset, rng Range) error {
	if !a.ForRent || !a.DailyRate.IsPositive() {
		return ErrNotForRent
	}
	if minDays := a.MinHireDays; rng.Days() < minDays {
		return fmt.Errorf("%w: at least %d days", ErrTooShort, minDays)
	}
	return nil
}

// CheckAvailability reports whether rng is free for the asset. A range below
// the asset's minimum hire period is a validation error, not a conflict.
func (s *Service) CheckAvailability(ctx context.Context, assetID uuid.UUID, rng Range) (*Availability, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(asset, rng); err != nil {
		return nil, err
	}

	blocking, err := s.repo.FindBlocking(ctx, s.db, assetID, rng, uuid.Nil)
	if err != nil {
		return nil, err
	}
	out := &Availability{Available: len(blocking) == 0}
	for _, b := range blocking {
		out.Conflicts = append(out.Conflicts, b.Range())
	}
	return out, nil
}

// Create records a PENDING request priced at days × daily rate, rounded up to
// whole shillings since M-Pesa only collects whole shillings.
func (s *Service) Create(ctx context.Context, customerID, assetID uuid.UUID, rng Range) (*Booking, error) {
	var b *Booking
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		asset, err := s.repo.LockAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if asset.OwnerID == customerID {
			return ErrOwnAsset
		}
		if err := checkBookable(asset, rng); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, tx, assetID, rng, uuid.Nil); err != nil {
			return err
		}

		b = &Booking{
			AssetID:    assetID,
			CustomerID: customerID,
			StartDate:  rng.Start,
			EndDate:    rng.End,
			TotalPrice: asset.DailyRate.Mul(decimal.NewFromInt(int64(rng.Days()))).RoundCeil(0),
			Status:     StatusPending,
		}
		return s.repo.Create(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("booking_id", b.ID.String()).
		Str("asset_id", assetID.String()).
		Str("customer_id", customerID.String()).
		Str("total_price", b.TotalPrice.StringFixed(2)).
		Msg("booking requested")
	return b, nil
}

func (s *Service) ensureFree(ctx context.Context, tx *sqlx.Tx, assetID uuid.UUID, rng Range, exclude uuid.UUID) error {
	blocking, err := s.repo.FindBlocking(ctx, tx, assetID, rng, exclude)
	if err != nil {
		return err
	}
	if len(blocking) > 0 {
		return ErrConflict
	}
	return nil
}

// lock takes the asset lock before the booking row lock, the order every
// writer uses.
func (s *Service) lock(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Booking, *Asset, error) {
	peek, err := s.repo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	asset, err := s.repo.LockAsset(ctx, tx, peek.AssetID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.repo.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	return b, asset, nil
}

// PlaceHoldTx reserves the booking's dates for the hold TTL while its payment
// is in flight. Live holds block other checkouts and approvals, including a
// second checkout of the same booking.
func (s *Service) PlaceHoldTx(ctx context.Context, tx *sqlx.Tx, bookingID, customerID uuid.UUID) (*Booking, *Asset, error) {
	b, asset, err := s.lock(ctx, tx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.CustomerID != customerID {
		return nil, nil, ErrForbidden
	}
	if !b.Payable() {
		return nil, nil, ErrNotPayable
	}
	if b.HoldExpiresAt.Valid && b.HoldExpiresAt.Time.After(s.now()) {
		return nil, nil, ErrPaymentInProgress
	}
	if err := s.ensureFree(ctx, tx, b.AssetID, b.Range(), b.ID); err != nil {
		return nil, nil, err
	}

	until := s.now().Add(s.holdTTL)
	if err := s.repo.SetHold(ctx, tx, b.ID, until); err != nil {
		return nil, nil, err
	}
	b.HoldExpiresAt.Time, b.HoldExpiresAt.Valid = until, true
	return b, asset, nil
}

// PlaceHold runs PlaceHoldTx in its own transaction.
func (s *Service) PlaceHold(ctx context.Context, bookingID, customerID uuid.UUID) (*Booking, *Asset, error) {
	var (
		b     *Booking
		asset *Asset
	)
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		b, asset, err = s.PlaceHoldTx(ctx, tx, bookingID, customerID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return b, asset, nil
}

// ReleaseHold frees the dates early when the payment push was never sent.
func (s *Service) ReleaseHold(ctx context.Context, bookingID uuid.UUID) error {
	return s.repo.ReleaseHold(ctx, s.db, bookingID)
}

// ReleaseHoldTx frees the dates once the push was declined or failed.
func (s *Service) ReleaseHoldTx(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID) error {
	return s.repo.ReleaseHold(ctx, tx, bookingID)
}

// MarkPaidTx moves a payable booking to PAID after re-checking exclusivity.
// It returns before writing anything when the booking is gone, no longer
// payable or its dates were taken.
func (s *Service) MarkPaidTx(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID) (*Booking, *Asset, error) {
	b, asset, err := s.lock(ctx, tx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !b.Payable() {
		return nil, nil, fmt.Errorf("%w: status %s", ErrNotPayable, b.Status)
	}
	if err := s.ensureFree(ctx, tx, b.AssetID, b.Range(), b.ID); err != nil {
		return nil, nil, err
	}
	if err := s.repo.UpdateStatus(ctx, tx, b.ID, StatusPaid); err != nil {
		return nil, nil, err
	}
	b.Status = StatusPaid
	b.HoldExpiresAt.Valid = false
	return b, asset, nil
}

type actor int

const (
	byOwner actor = iota
	byCustomer
)

// transition applies an owner or requester action under the locks.
func (s *Service) transition(ctx context.Context, userID, id uuid.UUID, who actor, to Status, from ...Status) (*Booking, error) {
	var b *Booking
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var (
			asset *Asset
			err   error
		)
		b, asset, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if (who == byOwner && asset.OwnerID != userID) || (who == byCustomer && b.CustomerID != userID) {
			return ErrForbidden
		}
		if !statusIn(b.Status, from) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, b.Status, to)
		}
		if to == StatusApproved {
			if err := s.ensureFree(ctx, tx, b.AssetID, b.Range(), b.ID); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateStatus(ctx, tx, b.ID, to); err != nil {
			return err
		}
		b.Status = to
		b.HoldExpiresAt.Valid = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("booking_id", id.String()).
		Str("user_id", userID.String()).
		Str("status", string(to)).
		Msg("booking status changed")
	return b, nil
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Approve is the owner accepting a request; the dates must still be free.
func (s *Service) Approve(ctx context.Context, ownerID, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, ownerID, id, byOwner, StatusApproved, StatusPending)
}

func (s *Service) Reject(ctx context.Context, ownerID, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, ownerID, id, byOwner, StatusRejected, StatusPending, StatusApproved)
}

// Complete closes a paid booking once the hire is over
func (s *Service) Complete(ctx context.Context, ownerID, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, ownerID, id, byOwner, StatusCompleted, StatusPaid)
}

// Cancel withdraws an unpaid request
func (s *Service) Cancel(ctx context.Context, customerID, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, customerID, id, byCustomer, StatusCancelled, StatusPending, StatusApproved)
}

// ListMine returns bookings the user requested, or as owner the bookings of
// their assets.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, asOwner bool) ([]*Booking, error) {
	if asOwner {
		return s.repo.ListByOwner(ctx, userID)
	}
	return s.repo.ListByCustomer(ctx, userID)
}

// ClearStaleHolds drops expired payment holds
func (s *Service) ClearStaleHolds(ctx context.Context) (int64, error) {
	n, err := s.repo.ClearExpiredHolds(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("cleared", n).Msg("expired booking holds cleared")
	}
	return n, nil
}
