package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/app"
	"github.com/buycars/buycars-api/internal/config"
	"github.com/buycars/buycars-api/internal/domain/payment"
	"github.com/buycars/buycars-api/internal/pkg/database"
	"github.com/buycars/buycars-api/internal/pkg/logger"
	"github.com/buycars/buycars-api/internal/pkg/realtime"
	"github.com/buycars/buycars-api/internal/worker"
)

var workerPool = database.PoolConfig{
	MaxOpen:     10,
	MaxIdle:     5,
	MaxLifetime: 5 * time.Minute,
	MaxIdleTime: time.Minute,
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "settlement-worker",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Str("env", cfg.Env).Msg("Starting settlement-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, workerPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL, database.RedisPool{Size: 10, MinIdle: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	// Status changes found by the sweeper reach payers through the API instances.
	publisher := realtime.NewPublisher(rdb)
	defer publisher.Shutdown()

	core, err := app.New(context.Background(), cfg, db, rdb, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble services")
	}
	defer core.Close()

	sweeper := payment.NewSweeper(core.Payments, core.Mpesa, core.Reconciler, cfg.PendingSweepAfter, cfg.PendingAbandonAfter)

	var statements worker.StatementExporter
	if core.Statements != nil {
		statements = core.Statements
	}
	jobs := worker.NewJobs(sweeper, core.Subscriptions, core.Bookings, statements)

	scheduler := worker.NewScheduler(jobs, worker.Schedules{
		Sweep:         cfg.SweepSchedule,
		Subscriptions: cfg.SubscriptionSchedule,
		HoldCleanup:   cfg.HoldCleanupSchedule,
		Statements:    cfg.StatementSchedule,
	})
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	log.Info().Msg("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received, waiting for running jobs")
	<-scheduler.Stop().Done()
	log.Info().Msg("settlement-worker stopped")
}
