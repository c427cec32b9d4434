package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/pkg/errorhandler"
)

// resultCodeExpired is the Daraja code for a push the payer never answered.
const resultCodeExpired = 1037

const sweepBatch = 100

// Sweeper settles payments whose callback never arrived by asking the
// gateway for their outcome.
type Sweeper struct {
	repo         *Repository
	gateway      Gateway
	reconciler   *Reconciler
	after        time.Duration
	abandonAfter time.Duration
	now          func() time.Time
}

// SweepReport counts what one sweep did
type SweepReport struct {
	Checked   int
	Applied   int
	Abandoned int
	Failed    int
}

// NewSweeper checks PENDING payments older than after and fails those the
// gateway still reports as unanswered past abandonAfter.
func NewSweeper(repo *Repository, gateway Gateway, reconciler *Reconciler, after, abandonAfter time.Duration) *Sweeper {
	return &Sweeper{
		repo:         repo,
		gateway:      gateway,
		reconciler:   reconciler,
		after:        after,
		abandonAfter: abandonAfter,
		now:          time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	pending, err := s.repo.ListPendingBefore(ctx, now.Add(-s.after), sweepBatch)
	if err != nil {
		return report, err
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		expired := now.Sub(p.CreatedAt) > s.abandonAfter

		res, err := s.gateway.QueryStatus(ctx, p.CheckoutRequestID)
		switch {
		case err != nil:
			// only the gateway's own answer abandons a payment
			report.Failed++
			if expired {
				errorhandler.LogAnomaly(ctx, "pending_payment_unresolved", err, map[string]string{
					"payment_id":          p.ID.String(),
					"checkout_request_id": p.CheckoutRequestID,
				})
				continue
			}
			log.Warn().Err(err).Str("checkout_request_id", p.CheckoutRequestID).Msg("status query failed")
			continue
		case res.Pending:
			if !expired {
				continue
			}
			outcome, err := s.reconciler.Reconcile(ctx, Result{
				CheckoutRequestID: p.CheckoutRequestID,
				ResultCode:        resultCodeExpired,
				ResultDesc:        DescriptionExpired,
				Source:            sourceSweep,
			})
			if err != nil {
				report.Failed++
				log.Error().Err(err).Str("checkout_request_id", p.CheckoutRequestID).Msg("failed to abandon payment")
				continue
			}
			if outcome == OutcomeApplied {
				report.Abandoned++
			}
		default:
			outcome, err := s.reconciler.Reconcile(ctx, Result{
				CheckoutRequestID: p.CheckoutRequestID,
				ResultCode:        res.ResultCode,
				ResultDesc:        res.ResultDesc,
				Source:            sourceSweep,
			})
			if err != nil {
				report.Failed++
				log.Error().Err(err).Str("checkout_request_id", p.CheckoutRequestID).Msg("failed to reconcile swept payment")
				continue
			}
			if outcome == OutcomeApplied {
				report.Applied++
			}
		}
	}

	if report.Checked > 0 {
		log.Info().
			Int("checked", report.Checked).
			Int("applied", report.Applied).
			Int("abandoned", report.Abandoned).
			Int("failed", report.Failed).
			Msg("pending payments swept")
	}
	return report, nil
}
