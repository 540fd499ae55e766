package handler

import (
	"clinic-ledger/internal/adapter/http/middleware"
	redisStore "clinic-ledger/internal/adapter/storage/redis"
	"clinic-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	InvoiceSvc     ports.InvoiceService
	PaymentSvc     ports.PaymentService
	PayoutSvc      ports.PayoutService
	ReportingSvc   ports.ReportingService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes))

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	invoiceHandler := NewInvoiceHandler(deps.InvoiceSvc, deps.ReportingSvc)
	invoices := v1.Group("/invoices")
	{
		invoices.POST("", rl("invoices"), invoiceHandler.Create)
		invoices.POST("/practitioner", rl("invoices"), invoiceHandler.GeneratePractitioner)
		invoices.GET("/:id", rl("reads"), invoiceHandler.Get)
		invoices.GET("/:id/transactions", rl("reads"), invoiceHandler.ListTransactions)
	}

	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payments := v1.Group("/payments")
	{
		payments.POST("/gateway", rl("payments"), paymentHandler.GatewayPayment)
		payments.POST("/manual", rl("payments"), paymentHandler.ManualPayment)
	}

	payoutHandler := NewPayoutHandler(deps.PayoutSvc)
	payouts := v1.Group("/payouts")
	{
		payouts.POST("/invoice", rl("payouts"), payoutHandler.InvoicePayout)
		payouts.POST("/practitioner", rl("payouts"), payoutHandler.PractitionerPayout)
	}
	v1.POST("/refunds", rl("refunds"), payoutHandler.Refund)

	walletHandler := NewWalletHandler(deps.ReportingSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.GET("/owner/:kind/:owner_id", rl("reads"), walletHandler.GetOwnerWallet)
		wallets.GET("/:id/statement", rl("reads"), walletHandler.GetStatement)
	}

	return r
}
