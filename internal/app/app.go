// Package app assembles the settlement engine's components. The API and the
// worker share one graph so a payment settles the same way whichever process
// reconciles it.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/config"
	"github.com/buycars/buycars-api/internal/domain/booking"
	"github.com/buycars/buycars-api/internal/domain/payment"
	"github.com/buycars/buycars-api/internal/domain/settlement"
	"github.com/buycars/buycars-api/internal/domain/statement"
	"github.com/buycars/buycars-api/internal/domain/subscription"
	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/notify"
	"github.com/buycars/buycars-api/internal/pkg/rabbitmq"
	"github.com/buycars/buycars-api/internal/pkg/realtime"
	"github.com/buycars/buycars-api/internal/pkg/sms"
	"github.com/buycars/buycars-api/internal/pkg/storage"
)

// Core is the settlement graph
type Core struct {
	Pricing  config.Pricing
	Mpesa    *mpesa.Client
	Notifier *notify.Dispatcher

	Payments      *payment.Repository
	Bookings      *booking.Service
	Subscriptions *subscription.Service
	WalletRepo    *wallet.Repository
	Wallet        *wallet.Service
	Reconciler    *payment.Reconciler

	// Statements is nil when no statement storage is configured
	Statements *statement.Service

	closers []func()
}

// New wires repositories and services. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, db *sqlx.DB, rdb *redis.Client, publisher realtime.Publisher) (*Core, error) {
	pricing, err := config.LoadPricing(cfg.PricingFile)
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}

	c := &Core{Pricing: pricing}

	sender, closeSender, err := newSender(cfg)
	if err != nil {
		return nil, err
	}
	c.Notifier = notify.NewDispatcher(sender, cfg.NotifyWorkers, cfg.NotifyQueueSize)
	// The dispatcher drains into the sender, so it closes first.
	c.closers = append(c.closers, c.Notifier.Close)
	if closeSender != nil {
		c.closers = append(c.closers, closeSender)
	}

	var tokens mpesa.TokenStore
	if rdb != nil {
		tokens = mpesa.NewRedisTokenStore(rdb, cfg.MpesaShortCode)
	}
	c.Mpesa = mpesa.NewClient(MpesaConfig(cfg), tokens)

	c.Payments = payment.NewRepository(db)
	c.Bookings = booking.NewService(db, booking.NewRepository(db), pricing.HoldTTL)
	c.Subscriptions = subscription.NewService(subscription.NewRepository(db), pricing)
	c.WalletRepo = wallet.NewRepository(db)
	c.Wallet = wallet.NewService(db, c.WalletRepo)

	orchestrator := settlement.NewOrchestrator(c.Subscriptions, c.Bookings, c.Wallet, pricing.CommissionRate)
	c.Reconciler = payment.NewReconciler(db, c.Payments, orchestrator, c.Notifier, publisher)

	store, err := newStatementStore(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	if store != nil {
		c.Statements = statement.NewService(c.WalletRepo, statement.NewRepository(db), store, cfg.StatementURLTTL)
	}

	return c, nil
}

// Close flushes queued notifications and closes the notification channel
func (c *Core) Close() {
	for _, fn := range c.closers {
		fn()
	}
	c.closers = nil
}

// MpesaConfig maps configuration onto the Daraja client
func MpesaConfig(cfg *config.Config) mpesa.Config {
	return mpesa.Config{
		BaseURL:            cfg.MpesaBaseURL,
		ConsumerKey:        cfg.MpesaConsumerKey,
		ConsumerSecret:     cfg.MpesaConsumerSecret,
		ShortCode:          cfg.MpesaShortCode,
		PartyB:             cfg.MpesaPartyB,
		Passkey:            cfg.MpesaPasskey,
		TransactionType:    cfg.MpesaTransactionType,
		CallbackURL:        cfg.MpesaCallbackURL,
		Timeout:            cfg.MpesaTimeout,
		InitiatorName:      cfg.MpesaInitiatorName,
		SecurityCredential: cfg.MpesaSecurityCredential,
		B2CShortCode:       cfg.MpesaB2CShortCode,
		B2CResultURL:       cfg.MpesaB2CResultURL,
		B2CTimeoutURL:      cfg.MpesaB2CTimeoutURL,
	}
}

func newSender(cfg *config.Config) (notify.Sender, func(), error) {
	switch cfg.Notifier {
	case "sms":
		client := sms.NewClient(sms.Config{
			BaseURL:  cfg.SMSBaseURL,
			Username: cfg.SMSUsername,
			APIKey:   cfg.SMSAPIKey,
			SenderID: cfg.SMSSenderID,
		})
		return notify.NewSMSSender(client), nil, nil
	case "amqp":
		producer, err := rabbitmq.NewProducer(cfg.AMQPURL, cfg.NotificationExchange)
		if err != nil {
			return nil, nil, fmt.Errorf("connect notification exchange: %w", err)
		}
		return notify.NewAMQPSender(producer), producer.Close, nil
	case "log", "":
		return notify.LogSender{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

// newStatementStore picks R2 when credentials are set, the local disk in
// development, and nothing otherwise.
func newStatementStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StatementsEnabled() {
		r2, err := storage.NewR2Storage(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			return nil, err
		}
		return r2, nil
	}
	if !cfg.IsDevelopment() {
		return nil, nil
	}

	log.Warn().Str("dir", cfg.LocalStorageDir).Msg("R2 not configured, storing statements on local disk")
	local, err := storage.NewLocalStorage(LocalFilesDir(cfg), cfg.PublicBaseURL+LocalFilesPath)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// LocalFilesPath is where the API serves local statement files in development
const LocalFilesPath = "/files"

// LocalFilesDir is the directory behind LocalFilesPath
func LocalFilesDir(cfg *config.Config) string {
	return filepath.Join(cfg.LocalStorageDir, "files")
}
