package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/pkg/database"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/metrics"
	"github.com/buycars/buycars-api/internal/pkg/money"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/notify"
)

const disburseTimeout = 45 * time.Second

// Ledger reserves and restores payout amounts
type Ledger interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, in wallet.DebitInput) (*wallet.Entry, error)
	RestoreTx(ctx context.Context, tx *sqlx.Tx, in wallet.DebitInput) (*wallet.Entry, error)
}

// Disburser sends approved payouts to the payee's phone
type Disburser interface {
	Disburse(ctx context.Context, req mpesa.DisbursementRequest) (*mpesa.DisbursementResponse, error)
}

type Service struct {
	db        *sqlx.DB
	repo      *Repository
	ledger    Ledger
	disburser Disburser
	notifier  notify.Notifier
	minimum   decimal.Decimal

	wg sync.WaitGroup
}

// NewService creates the payout processor. A nil disburser leaves approved
// payouts for manual transfer.
func NewService(db *sqlx.DB, repo *Repository, ledger Ledger, disburser Disburser, notifier notify.Notifier, minimum decimal.Decimal) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Service{
		db:        db,
		repo:      repo,
		ledger:    ledger,
		disburser: disburser,
		notifier:  notifier,
		minimum:   minimum,
	}
}

// Request reserves amount from the wallet and files a PENDING payout in the
// same transaction.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, phone string) (*Payout, error) {
	if err := money.Validate(amount); err != nil {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.minimum) {
		return nil, fmt.Errorf("%w of KES %s", ErrBelowMinimum, money.Format(s.minimum))
	}
	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	p := &Payout{UserID: userID, Amount: amount, Phone: normalized, Status: StatusPending}
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.repo.create(ctx, tx, p); err != nil {
			return err
		}
		_, err := s.ledger.DebitTx(ctx, tx, wallet.DebitInput{
			UserID:      userID,
			Amount:      amount,
			Description: descriptionRequest,
			Reference:   referenceRequest,
			Key:         reserveKey(p.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Payouts.WithLabelValues(string(StatusPending)).Inc()
	log.Info().
		Str("payout_id", p.ID.String()).
		Str("user_id", userID.String()).
		Str("amount", amount.StringFixed(money.Places)).
		Msg("payout requested")
	return p, nil
}

// review locks a PENDING payout, runs fn and records the decision.
func (s *Service) review(ctx context.Context, id, adminID uuid.UUID, to Status, note string, fn func(tx *sqlx.Tx, p *Payout) error) (*Payout, error) {
	var p *Payout
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if p, err = s.repo.getForUpdate(ctx, tx, id); err != nil {
			return err
		}
		if !p.IsPending() {
			return fmt.Errorf("%w: status %s", ErrNotPending, p.Status)
		}
		if err := s.repo.review(ctx, tx, id, to, adminID, note); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(tx, p); err != nil {
				return err
			}
		}
		p.Status = to
		p.AdminNote = note
		p.ReviewedBy = uuid.NullUUID{UUID: adminID, Valid: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Payouts.WithLabelValues(string(to)).Inc()
	log.Info().
		Str("payout_id", id.String()).
		Str("admin_id", adminID.String()).
		Str("status", string(to)).
		Msg("payout reviewed")
	return p, nil
}

// Approve marks the payout PROCESSED and starts the B2C transfer in the
// background. A failed transfer is recorded for manual follow-up and is not
// reversed.
func (s *Service) Approve(ctx context.Context, adminID, id uuid.UUID) (*Payout, error) {
	var submit func(tx *sqlx.Tx, p *Payout) error
	if s.disburser != nil {
		submit = func(tx *sqlx.Tx, p *Payout) error {
			originator := originatorID(p.ID)
			if err := s.repo.markSubmitting(ctx, tx, p.ID, originator); err != nil {
				return err
			}
			p.DisbursementStatus = DisbursementSubmitting
			p.OriginatorConversationID = sql.NullString{String: originator, Valid: true}
			return nil
		}
	}

	p, err := s.review(ctx, id, adminID, StatusProcessed, "", submit)
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(notify.PayoutProcessed(p.UserID.String(), p.Phone, p.ID.String(), p.Amount))

	if s.disburser == nil {
		log.Warn().Str("payout_id", p.ID.String()).Msg("B2C not configured, payout must be sent manually")
		return p, nil
	}
	s.wg.Add(1)
	go func(p Payout) {
		defer s.wg.Done()
		s.disburse(context.WithoutCancel(ctx), &p)
	}(*p)
	return p, nil
}

func (s *Service) disburse(ctx context.Context, p *Payout) {
	ctx, cancel := context.WithTimeout(ctx, disburseTimeout)
	defer cancel()

	resp, err := s.disburser.Disburse(ctx, mpesa.DisbursementRequest{
		OriginatorConversationID: p.OriginatorConversationID.String,
		Phone:                    p.Phone,
		Amount:                   p.Amount,
		Remarks:                  "Wallet payout",
		Occasion:                 p.ID.String(),
	})
	if err != nil {
		metrics.Disbursements.WithLabelValues("error").Inc()
		var gwErr *mpesa.GatewayError
		if errors.As(err, &gwErr) {
			errorhandler.LogExternalServiceError(ctx, "mpesa", "b2c", gwErr.StatusCode, err, gwErr.Message)
		}
		errorhandler.LogAnomaly(ctx, "disbursement_failed", err, map[string]string{"payout_id": p.ID.String()})
		if _, uErr := s.repo.setSubmission(ctx, p.ID, DisbursementFailed, sql.NullString{}, err.Error()); uErr != nil {
			log.Error().Err(uErr).Str("payout_id", p.ID.String()).Msg("failed to record disbursement error")
		}
		return
	}

	metrics.Disbursements.WithLabelValues("submitted").Inc()
	conversationID := sql.NullString{String: resp.ConversationID, Valid: resp.ConversationID != ""}
	final, err := s.repo.setSubmission(ctx, p.ID, DisbursementSubmitted, conversationID, resp.ResponseDescription)
	if err != nil {
		log.Error().Err(err).
			Str("payout_id", p.ID.String()).
			Str("conversation_id", resp.ConversationID).
			Msg("failed to record disbursement submission")
		return
	}
	if final != DisbursementSubmitted {
		log.Info().
			Str("payout_id", p.ID.String()).
			Str("disbursement_status", string(final)).
			Msg("disbursement result arrived before submission was recorded")
	}
}

// Reject marks the payout REJECTED and restores the reserved amount in the
// same transaction.
func (s *Service) Reject(ctx context.Context, adminID, id uuid.UUID, note string) (*Payout, error) {
	p, err := s.review(ctx, id, adminID, StatusRejected, note, func(tx *sqlx.Tx, p *Payout) error {
		_, err := s.ledger.RestoreTx(ctx, tx, wallet.DebitInput{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Description: descriptionReversal,
			Reference:   referenceReversal,
			Key:         reverseKey(p.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(notify.PayoutRejected(p.UserID.String(), p.Phone, p.ID.String(), p.Amount))
	return p, nil
}

// RecordDisbursementResult applies a B2C result or timeout notice, matched on
// our originator id or the gateway's conversation id. It may land before the
// submission itself is recorded. A repeat delivery is ignored and reports
// false.
func (s *Service) RecordDisbursementResult(ctx context.Context, res *mpesa.B2CResult) (bool, error) {
	status := DisbursementFailed
	if res.Succeeded() {
		status = DisbursementSucceeded
	}
	txID := sql.NullString{String: res.TransactionID, Valid: res.TransactionID != ""}

	keys := resultKeys{originator: res.OriginatorConversationID, conversation: res.ConversationID}
	p, err := s.repo.recordResult(ctx, keys, status, txID, res.ResultDesc)
	if err != nil {
		return false, err
	}
	if p == nil {
		found, err := s.repo.conversationExists(ctx, keys)
		if err != nil {
			return false, err
		}
		if !found {
			return false, ErrUnknownConversation
		}
		return false, nil
	}

	metrics.Disbursements.WithLabelValues(string(status)).Inc()
	if status == DisbursementFailed {
		errorhandler.LogAnomaly(ctx, "disbursement_failed", nil, map[string]string{
			"payout_id":       p.ID.String(),
			"conversation_id": res.ConversationID,
			"result_desc":     res.ResultDesc,
		})
	} else {
		log.Info().
			Str("payout_id", p.ID.String()).
			Str("transaction_id", res.TransactionID).
			Msg("payout disbursed")
	}
	return true, nil
}

func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payout, int, error) {
	return s.repo.ListByUser(ctx, userID, clampLimit(limit), max(offset, 0))
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Payout, int, error) {
	return s.repo.ListByStatus(ctx, status, clampLimit(limit), max(offset, 0))
}

// Close waits for in-flight disbursements.
func (s *Service) Close() {
	s.wg.Wait()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
