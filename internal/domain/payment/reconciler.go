package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/pkg/database"
	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
	"github.com/buycars/buycars-api/internal/pkg/metrics"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/notify"
	"github.com/buycars/buycars-api/internal/pkg/realtime"
)

// Settler applies the effects of a successful payment inside the
// reconciliation transaction and returns the messages to send once it
// commits. Errors wrapping ErrSettlementAnomaly leave the payment SUCCESS
// but unsettled; any other error rolls the whole reconciliation back.
type Settler interface {
	SettleTx(ctx context.Context, tx *sqlx.Tx, p *Payment) ([]notify.Message, error)
}

// HoldReleaser is implemented by settlers that reserve something while a
// payment is in flight. ReleaseTx runs in the transaction that fails it.
type HoldReleaser interface {
	ReleaseTx(ctx context.Context, tx *sqlx.Tx, p *Payment) error
}

// Reconciler applies gateway results to payment records exactly once.
type Reconciler struct {
	db       *sqlx.DB
	repo     *Repository
	settler  Settler
	notifier notify.Notifier
	realtime realtime.Publisher
}

func NewReconciler(db *sqlx.DB, repo *Repository, settler Settler, notifier notify.Notifier, rt realtime.Publisher) *Reconciler {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Reconciler{db: db, repo: repo, settler: settler, notifier: notifier, realtime: rt}
}

// ResultFromCallback converts a decoded STK callback
func ResultFromCallback(cb *mpesa.CallbackResult) Result {
	return Result{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Receipt:           cb.Receipt,
		Amount:            cb.Amount,
		Source:            sourceCallback,
	}
}

// Reconcile moves the PENDING payment named by res to its terminal status
// and, on success, settles it in the same transaction. A second delivery for
// the same checkout id finds no PENDING row and returns OutcomeAlreadyApplied
// without side effects.
func (r *Reconciler) Reconcile(ctx context.Context, res Result) (Outcome, error) {
	source := res.Source
	if source == "" {
		source = sourceCallback
	}

	status, description := StatusFailed, res.ResultDesc
	if res.Succeeded() {
		status, description = StatusSuccess, DescriptionConfirmed
	} else if description == "" {
		description = "Payment failed"
	}

	outcome := OutcomeUnknown
	settled := &settlement{}
	var (
		applied *Payment
		stored  Status
	)
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		p, err := r.repo.transition(ctx, tx, res.CheckoutRequestID, status, receiptOf(res), description, res.ResultCode)
		if err != nil {
			return err
		}
		if p == nil {
			stored, err = r.repo.statusOf(ctx, tx, res.CheckoutRequestID)
			if err != nil {
				return err
			}
			if stored != "" {
				outcome = OutcomeAlreadyApplied
			}
			return nil
		}
		outcome, applied = OutcomeApplied, p

		if status != StatusSuccess {
			return r.release(ctx, tx, p)
		}
		settled, err = r.settle(ctx, tx, p)
		return err
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(source, "error").Inc()
		return OutcomeUnknown, fmt.Errorf("reconcile %s: %w", res.CheckoutRequestID, err)
	}
	metrics.Reconciliations.WithLabelValues(source, outcome.String()).Inc()

	switch outcome {
	case OutcomeUnknown:
		errorhandler.LogAnomaly(ctx, "unknown_checkout_request", nil, map[string]string{
			"checkout_request_id": res.CheckoutRequestID,
			"source":              source,
		})
		return outcome, nil
	case OutcomeAlreadyApplied:
		if stored != status {
			errorhandler.LogAnomaly(ctx, "conflicting_payment_result", nil, map[string]string{
				"checkout_request_id": res.CheckoutRequestID,
				"stored_status":       string(stored),
				"received_status":     string(status),
				"receipt":             res.Receipt,
				"source":              source,
			})
			return outcome, nil
		}
		log.Info().
			Str("checkout_request_id", res.CheckoutRequestID).
			Str("source", source).
			Msg("duplicate payment result ignored")
		return outcome, nil
	}

	r.afterCommit(ctx, applied, res, source, settled)
	return outcome, nil
}

// release frees what the settler reserved for a failed payment, unless a
// newer push for the same booking is still outstanding.
func (r *Reconciler) release(ctx context.Context, tx *sqlx.Tx, p *Payment) error {
	releaser, ok := r.settler.(HoldReleaser)
	if !ok {
		return nil
	}
	if p.BookingID.Valid {
		busy, err := r.repo.hasPendingForBooking(ctx, tx, p.BookingID.UUID, p.ID)
		if err != nil || busy {
			return err
		}
	}
	return releaser.ReleaseTx(ctx, tx, p)
}

type settlement struct {
	notices []notify.Message
	anomaly error
}

// settle runs the settler behind a savepoint so an anomaly discards every
// settlement write while keeping the payment transition.
func (r *Reconciler) settle(ctx context.Context, tx *sqlx.Tx, p *Payment) (*settlement, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT settlement"); err != nil {
		return nil, err
	}

	notices, err := r.settler.SettleTx(ctx, tx, p)
	if err == nil {
		return &settlement{notices: notices}, nil
	}
	if !errors.Is(err, ErrSettlementAnomaly) {
		return nil, err
	}

	if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT settlement"); rbErr != nil {
		return nil, rbErr
	}
	p.Description = DescriptionNeedsReview
	if dErr := r.repo.setDescription(ctx, tx, p.ID, p.Description); dErr != nil {
		return nil, dErr
	}
	return &settlement{anomaly: err}, nil
}

func (r *Reconciler) afterCommit(ctx context.Context, p *Payment, res Result, source string, settled *settlement) {
	if anomaly := settled.anomaly; anomaly != nil {
		kind := "unclassified"
		var ae *AnomalyError
		if errors.As(anomaly, &ae) {
			kind = ae.Kind
		}
		metrics.SettlementAnomalies.WithLabelValues(kind).Inc()
		errorhandler.LogAnomaly(ctx, "settlement_"+kind, anomaly, map[string]string{
			"payment_id":          p.ID.String(),
			"checkout_request_id": p.CheckoutRequestID,
		})
	}

	if p.Status == StatusSuccess && res.Amount.IsPositive() && !res.Amount.Equal(p.Amount) {
		errorhandler.LogAnomaly(ctx, "amount_mismatch", nil, map[string]string{
			"checkout_request_id": p.CheckoutRequestID,
			"expected":            p.Amount.StringFixed(2),
			"received":            res.Amount.StringFixed(2),
		})
	}

	log.Info().
		Str("payment_id", p.ID.String()).
		Str("checkout_request_id", p.CheckoutRequestID).
		Str("status", string(p.Status)).
		Int("result_code", res.ResultCode).
		Str("source", source).
		Msg("payment reconciled")

	if len(settled.notices) > 0 {
		r.notifier.Notify(settled.notices...)
	}
	if r.realtime != nil {
		r.realtime.Publish(p.UserID, realtime.Event{
			Type:              realtime.EventPaymentStatus,
			CheckoutRequestID: p.CheckoutRequestID,
			Status:            string(p.Status),
			Description:       p.Description,
			Receipt:           p.Receipt.String,
			At:                p.UpdatedAt,
		})
	}
}
