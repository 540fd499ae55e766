package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic-ledger/config"
	httpHandler "clinic-ledger/internal/adapter/http/handler"
	pgStorage "clinic-ledger/internal/adapter/storage/postgres"
	redisStorage "clinic-ledger/internal/adapter/storage/redis"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/internal/service"
	"clinic-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Clinic Ledger")

	settings, err := buildSettings(cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ledger configuration")
	}

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	invoiceRepo := pgStorage.NewInvoiceRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize business services. The invoice service doubles as the
	// ledger's in-transaction status recomputer.
	invoiceSvc := service.NewInvoiceService(invoiceRepo, txRepo, walletRepo, transactor, settings, log)
	ledgerSvc := service.NewLedgerService(txRepo, walletRepo, invoiceSvc, idempotencyCache, transactor, log)
	notifier := service.NewHTTPNotifier(cfg.Notify.URL, &http.Client{Timeout: cfg.Notify.Timeout}, log)
	paymentSvc := service.NewPaymentService(invoiceRepo, txRepo, walletRepo, ledgerSvc, notifier, settings, log)
	payoutSvc := service.NewPayoutService(invoiceRepo, txRepo, walletRepo, ledgerSvc, notifier, settings, log)
	reportingSvc := service.NewReportingService(txRepo, walletRepo)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		InvoiceSvc:     invoiceSvc,
		PaymentSvc:     paymentSvc,
		PayoutSvc:      payoutSvc,
		ReportingSvc:   reportingSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// buildSettings validates the per-tenant ledger configuration.
func buildSettings(cfg config.LedgerConfig) (ports.Settings, error) {
	if cfg.ClinicOwnerID == "" {
		return ports.Settings{}, fmt.Errorf("ledger.clinic_owner_id is required")
	}
	ownerID, err := uuid.Parse(cfg.ClinicOwnerID)
	if err != nil {
		return ports.Settings{}, fmt.Errorf("ledger.clinic_owner_id: %w", err)
	}
	pct, err := decimal.NewFromString(cfg.CommissionPercent)
	if err != nil {
		return ports.Settings{}, fmt.Errorf("ledger.commission_percent: %w", err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return ports.Settings{}, fmt.Errorf("ledger.commission_percent must be between 0 and 100")
	}
	return ports.Settings{
		Currency:                 cfg.Currency,
		ClinicOwnerID:            ownerID,
		DefaultCommissionPercent: pct,
		OrganizationName:         cfg.OrganizationName,
	}, nil
}
