// internal/router/router.go
package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/handlers"
	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/middleware"
	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

// Services are the wired dependencies the HTTP surface needs.
type Services struct {
	DB         *gorm.DB
	Payment    *services.PaymentService
	Generation *services.GenerationService
	Pricing    *services.PricingService
	Buyback    *services.BuybackService
	JWT        *utils.JWTManager
	Metrics    *metrics.Metrics
}

// Initialize builds the engine. Background cleanup of rate limiters stops with ctx.
func Initialize(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	// Initialize handlers
	generationHandler := handlers.NewGenerationHandler(svc.Payment, svc.Generation, cfg.Payment.Realm)
	paymentHandler := handlers.NewPaymentHandler(svc.Payment)
	pricingHandler := handlers.NewPricingHandler(svc.Pricing)
	adminHandler := handlers.NewAdminHandler(svc.Payment, svc.Buyback, svc.Pricing)

	generalLimiter := middleware.NewRateLimiter(middleware.PerSecond(cfg.RateLimit.GeneralPerSecond), cfg.RateLimit.GeneralBurst)
	generateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimit.GeneratePerMinute), cfg.RateLimit.GenerateBurst)
	go generalLimiter.RunCleanup(ctx)
	go generateLimiter.RunCleanup(ctx)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(svc.Metrics))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(generalLimiter.Middleware())
	if svc.DB != nil {
		r.Use(middleware.AuditLogMiddleware(svc.DB))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"network": cfg.Solana.Network,
		})
	})
	r.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Pay-per-generation
		generate := v1.Group("/generate")
		{
			generate.POST("", generateLimiter.Middleware(), generationHandler.Generate)
			generate.GET("/:taskId", generationHandler.GetTask)
		}

		// Payment routes
		payments := v1.Group("/payments")
		{
			payments.POST("/verify", generateLimiter.Middleware(), paymentHandler.VerifyPayment)
		}

		// Catalog and pricing (public)
		v1.GET("/models", pricingHandler.ListModels)
		v1.GET("/pricing/quote", pricingHandler.Quote)

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminRequired(svc.JWT))
		{
			admin.GET("/settlements", adminHandler.GetSettlements)
			admin.POST("/pricing/refresh", adminHandler.RefreshPrice)

			buybacks := admin.Group("/buybacks")
			{
				buybacks.GET("", adminHandler.GetBuybacks)
				buybacks.GET("/contributions", adminHandler.GetContributions)
				buybacks.GET("/stats", adminHandler.GetBuybackStats)
			}
		}
	}

	return r
}
