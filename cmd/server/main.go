// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/database"
	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/providers"
	"github.com/javajoker/payper-backend/internal/router"
	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	m := metrics.New()

	// Pending challenges live in Redis when configured so any instance can settle them
	var pending services.PendingStore
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to Redis")
		}
		pending = services.NewRedisPendingStore(client, cfg.Redis.KeyPrefix)
		logrus.WithField("addr", cfg.Redis.Addr()).Info("Pending payments stored in Redis")
	} else {
		memory := services.NewMemoryPendingStore()
		go memory.RunJanitor(ctx, time.Minute)
		pending = memory
		logrus.Info("Pending payments stored in memory")
	}

	// Pricing
	catalog := models.NewCatalog(cfg.Models)
	tokenOracle := services.NewPriceOracle(services.PaymentTokenOracleOptions(cfg), nil, m)
	nativeOracle := services.NewPriceOracle(services.NativeOracleOptions(cfg), nil, m)
	pricingService := services.NewPricingService(tokenOracle, catalog, decimal.NewFromFloat(cfg.Payment.FeePercent))

	// Ledger
	blockchainService := services.NewBlockchainService(cfg.Solana, nil)
	verifier := services.NewSettlementVerifier(blockchainService, cfg.Solana.CollectionWallet, cfg.Solana.TokenMint)

	// Providers
	kie := providers.NewKieClient(cfg.Providers, nil)
	registry := providers.NewRegistry(
		providers.NewGPT4oImageAdapter(kie),
		providers.NewVeoAdapter(kie),
		providers.NewJobsAdapter(kie),
	)
	storageService, err := services.NewStorageService(cfg.AWS)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize storage")
	}
	generationService := services.NewGenerationService(db, registry, catalog, storageService, m)
	if missing := generationService.UnservedModels(); len(missing) > 0 {
		logrus.WithField("models", missing).Fatal("Catalog models without a provider adapter")
	}

	// Buyback
	var swapper services.Swapper
	if cfg.Buyback.Enabled {
		swapService, err := services.NewSwapService(cfg.Buyback, cfg.Solana.TokenMint, blockchainService, nil)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize buyback wallet")
		}
		if !swapService.Configured() {
			logrus.Warn("Buyback enabled without a wallet key, batches will fail")
		}
		swapper = swapService
	}
	buybackService := services.NewBuybackService(db, cfg.Buyback, nativeOracle, swapper, m)
	if cfg.Buyback.Enabled {
		buybackService.Start(ctx)
	} else {
		logrus.Info("Buyback disabled, contributions stay queued")
	}

	paymentService := services.NewPaymentService(db, cfg, pricingService, verifier, pending, generationService, buybackService, m)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(ctx, cfg, router.Services{
		DB:         db,
		Payment:    paymentService,
		Generation: generationService,
		Pricing:    pricingService,
		Buyback:    buybackService,
		JWT:        utils.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Issuer),
		Metrics:    m,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":    srv.Addr,
			"network": cfg.Solana.Network,
			"storage": storageService.Enabled(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	stop()
	buybackService.Wait()
	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
}
