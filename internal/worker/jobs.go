// Package worker runs the settlement engine's housekeeping on a schedule:
// pending payment sweeps, subscription expiry, stale booking holds and the
// monthly wallet statements.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/domain/payment"
	"github.com/buycars/buycars-api/internal/domain/statement"
	"github.com/buycars/buycars-api/internal/pkg/metrics"
)

// Job names, also used as metric labels
const (
	JobSweepPayments       = "sweep_payments"
	JobExpireSubscriptions = "expire_subscriptions"
	JobClearHolds          = "clear_holds"
	JobMonthlyStatements   = "monthly_statements"
)

const defaultJobTimeout = 5 * time.Minute

type Sweeper interface {
	Sweep(ctx context.Context) (payment.SweepReport, error)
}

type SubscriptionExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

type HoldCleaner interface {
	ClearStaleHolds(ctx context.Context) (int64, error)
}

type StatementExporter interface {
	GenerateMonth(ctx context.Context, m statement.Month) (int, error)
}

// Jobs holds the job bodies the scheduler invokes. Statements may be nil when
// object storage is not configured.
type Jobs struct {
	sweeper       Sweeper
	subscriptions SubscriptionExpirer
	holds         HoldCleaner
	statements    StatementExporter
	timeout       time.Duration
	now           func() time.Time
}

func NewJobs(sweeper Sweeper, subscriptions SubscriptionExpirer, holds HoldCleaner, statements StatementExporter) *Jobs {
	return &Jobs{
		sweeper:       sweeper,
		subscriptions: subscriptions,
		holds:         holds,
		statements:    statements,
		timeout:       defaultJobTimeout,
		now:           time.Now,
	}
}

// run executes one job with a deadline and records its result
func (j *Jobs) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := j.now()
	if err := fn(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		log.Error().Err(err).Str("job", name).Msg("job failed")
		return
	}
	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
	log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
}

// SweepPayments asks the gateway about payments whose callback never came
func (j *Jobs) SweepPayments() {
	j.run(JobSweepPayments, func(ctx context.Context) error {
		report, err := j.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if report.Checked > 0 {
			log.Info().
				Int("checked", report.Checked).
				Int("applied", report.Applied).
				Int("abandoned", report.Abandoned).
				Int("failed", report.Failed).
				Msg("pending payments swept")
		}
		return nil
	})
}

func (j *Jobs) ExpireSubscriptions() {
	j.run(JobExpireSubscriptions, func(ctx context.Context) error {
		_, err := j.subscriptions.ExpireDue(ctx)
		return err
	})
}

func (j *Jobs) ClearHolds() {
	j.run(JobClearHolds, func(ctx context.Context) error {
		_, err := j.holds.ClearStaleHolds(ctx)
		return err
	})
}

// MonthlyStatements exports last month's statement for every active wallet
func (j *Jobs) MonthlyStatements() {
	j.run(JobMonthlyStatements, func(ctx context.Context) error {
		_, err := j.statements.GenerateMonth(ctx, statement.MonthOf(j.now()).Previous())
		return err
	})
}
