package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/app"
	"github.com/buycars/buycars-api/internal/config"
	"github.com/buycars/buycars-api/internal/domain/booking"
	"github.com/buycars/buycars-api/internal/domain/payment"
	"github.com/buycars/buycars-api/internal/domain/payout"
	"github.com/buycars/buycars-api/internal/domain/statement"
	"github.com/buycars/buycars-api/internal/domain/subscription"
	"github.com/buycars/buycars-api/internal/domain/wallet"
	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/database"
	"github.com/buycars/buycars-api/internal/pkg/jwt"
	"github.com/buycars/buycars-api/internal/pkg/logger"
	"github.com/buycars/buycars-api/internal/pkg/realtime"
	pkgresponse "github.com/buycars/buycars-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "api",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting BuyCars API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL, database.DefaultRedisPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Realtime hub ----------
	hub := realtime.NewHub(redis)
	go hub.Run()

	// ---------- Services ----------
	core, err := app.New(context.Background(), cfg, db, redis, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble services")
	}

	paymentService := payment.NewService(core.Payments, core.Mpesa, core.Bookings, core.Pricing, redis)
	var disburser payout.Disburser
	if core.Mpesa.B2CEnabled() {
		disburser = core.Mpesa
	}
	payoutService := payout.NewService(db, payout.NewRepository(db), core.Wallet, disburser, core.Notifier, core.Pricing.MinimumPayout)

	// ---------- Handlers ----------
	h := handlers{
		payments:      payment.NewHandler(paymentService, core.Reconciler),
		bookings:      booking.NewHandler(core.Bookings),
		subscriptions: subscription.NewHandler(core.Subscriptions),
		wallet:        wallet.NewHandler(core.Wallet),
		payouts:       payout.NewHandler(payoutService),
		realtime:      realtime.NewHandler(hub, cfg.AllowedOrigins),
	}
	if core.Statements != nil {
		h.statements = statement.NewHandler(core.Statements).Download
		if !cfg.StatementsEnabled() {
			h.localFiles = app.LocalFilesDir(cfg)
		}
	}

	r := newRouter(cfg, h, middleware.Auth(jwtService), middleware.WSAuth(jwtService))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-flight disbursements and queued notifications finish before the pools close.
	payoutService.Close()
	core.Close()
	hub.Shutdown()

	log.Info().Msg("Server exited properly")
}

type handlers struct {
	payments      *payment.Handler
	bookings      *booking.Handler
	subscriptions *subscription.Handler
	wallet        *wallet.Handler
	payouts       *payout.Handler
	realtime      *realtime.Handler

	// statements is nil when statement export is disabled
	statements http.HandlerFunc
	// localFiles is served under /files when statements live on local disk
	localFiles string
}

func newRouter(cfg *config.Config, h handlers, authMiddleware, wsAuthMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (before Compress)
	r.With(wsAuthMiddleware).Get("/ws/payments", h.realtime.Stream)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	if h.localFiles != "" {
		r.Handle(app.LocalFilesPath+"/*", http.StripPrefix(app.LocalFilesPath, http.FileServer(http.Dir(h.localFiles))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/payments", h.payments.Routes(authMiddleware))
		r.Mount("/bookings", h.bookings.Routes(authMiddleware))
		r.Mount("/subscriptions", h.subscriptions.Routes(authMiddleware))
		r.Mount("/wallet", wallet.Routes(h.wallet, h.statements, authMiddleware))
		r.Mount("/payouts", h.payouts.Routes(authMiddleware))
		r.Mount("/admin/payouts", h.payouts.AdminRoutes(authMiddleware))

		mountWebhooks(r, h.payments.STKCallback, h.payouts.B2CResult)
	})

	return r
}

// mountWebhooks registers the gateway callbacks, which carry no bearer token
func mountWebhooks(r chi.Router, stk, b2cResult http.HandlerFunc) {
	r.Route("/webhooks/mpesa", func(r chi.Router) {
		r.Post("/stk", stk)
		r.Post("/b2c/result", b2cResult)
		r.Post("/b2c/timeout", b2cResult)
	})
}
