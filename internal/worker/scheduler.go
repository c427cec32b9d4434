package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Schedules are cron specs, standard five fields or descriptors like "@hourly"
type Schedules struct {
	Sweep         string
	Subscriptions string
	HoldCleanup   string
	Statements    string
}

type entry struct {
	name string
	spec string
	fn   func()
}

// Scheduler manages the cron jobs
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	schedules Schedules
}

func NewScheduler(jobs *Jobs, schedules Schedules) *Scheduler {
	logger := cronLogger{log: log.Logger.With().Str("component", "cron").Logger()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. An invalid
// schedule is returned before anything runs.
func (s *Scheduler) Start() error {
	entries := []entry{
		{JobSweepPayments, s.schedules.Sweep, s.jobs.SweepPayments},
		{JobExpireSubscriptions, s.schedules.Subscriptions, s.jobs.ExpireSubscriptions},
		{JobClearHolds, s.schedules.HoldCleanup, s.jobs.ClearHolds},
	}
	if s.jobs.statements != nil {
		entries = append(entries, entry{JobMonthlyStatements, s.schedules.Statements, s.jobs.MonthlyStatements})
	} else {
		log.Warn().Msg("statement storage not configured, monthly statements disabled")
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return fmt.Errorf("schedule %s %q: %w", e.name, e.spec, err)
		}
		log.Info().Str("job", e.name).Str("schedule", e.spec).Msg("scheduled job")
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
