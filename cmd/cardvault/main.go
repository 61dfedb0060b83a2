package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akulinin/cardvault/internal/cardnumber"
	"github.com/akulinin/cardvault/internal/config"
	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/handler"
	"github.com/akulinin/cardvault/internal/infra/cache"
	"github.com/akulinin/cardvault/internal/infra/mailer"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/infra/postgres"
	"github.com/akulinin/cardvault/internal/infra/resilience"
	"github.com/akulinin/cardvault/internal/scheduler"
	"github.com/akulinin/cardvault/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("card_prefix", cfg.CardPrefix),
		zap.Int("card_validity_years", cfg.CardValidityYears),
		zap.String("sweep_cron", cfg.SweepCron),
		zap.Int("sweep_concurrency", cfg.SweepConcurrency),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("jwt_refresh_ttl", cfg.JWTRefreshTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "cardvault-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Database ---
	db, err := postgres.Open(cfg.DatabaseURL, cfg.LogLevel)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	store := postgres.NewStore(db)

	// --- Card number codec ---
	codec, err := cardnumber.New(cfg.EncryptionSecret, cfg.FingerprintSecret, cfg.CardPrefix)
	if err != nil {
		logger.Fatal("failed to init card number codec", zap.Error(err))
	}

	// --- Cache ---
	cardCache := cache.New[domain.CardView](cfg.CacheTTL)
	defer cardCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Notifications ---
	notifier := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger, resilienceCfg)
	if notifier == nil {
		logger.Warn("SMTP not configured, card notifications disabled")
	}

	// --- Services ---
	cardsSvc := service.NewCardsService(store, codec, cardCache, metrics, logger)
	ledgerSvc := service.NewLedgerService(store, codec, notifier, cardsSvc, metrics, logger, cfg.CardValidityYears)
	transferSvc := service.NewTransferService(store, ledgerSvc, cardsSvc, metrics, logger)
	lifecycleSvc := service.NewLifecycleService(store, metrics, logger, cfg.SweepConcurrency)
	workflowSvc := service.NewWorkflowService(store, ledgerSvc, logger)
	authSvc := service.NewAuthService(store, cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, logger)

	// --- Expiry sweep schedule ---
	sched := scheduler.New(logger)
	if err := sched.Add(cfg.SweepCron, "card-expiry-sweep", func(ctx context.Context) error {
		_, err := lifecycleSvc.SweepExpiredCards(ctx)
		return err
	}); err != nil {
		logger.Fatal("failed to schedule expiry sweep", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Auth:      authSvc,
		Cards:     cardsSvc,
		Ledger:    ledgerSvc,
		Transfer:  transferSvc,
		Workflow:  workflowSvc,
		Lifecycle: lifecycleSvc,
	}, store, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
