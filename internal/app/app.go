package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/api"
	"github.com/voyagepay/settlement-engine/internal/api/middleware"
	"github.com/voyagepay/settlement-engine/internal/config"
	"github.com/voyagepay/settlement-engine/internal/db"
	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/fraud"
	"github.com/voyagepay/settlement-engine/internal/gateway"
	"github.com/voyagepay/settlement-engine/internal/idempotency"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/repository"
	"github.com/voyagepay/settlement-engine/internal/service"
	"github.com/voyagepay/settlement-engine/internal/worker"
)

// Run bootstraps the settlement engine, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	store := repository.NewPgStore(pool)
	if cfg.AutoMigrate {
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		logger.Info("schema ensured")
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)

	gw := gateway.NewMockClient()
	notifier := notify.NewLogNotifier()

	velocity := fraud.NewRedisVelocity(redisClient)
	history := fraud.NewStoreHistory(store, velocity)
	gate := fraud.NewGate(history, fraud.StaticGeoResolver{}, fraud.Limits{
		HourlyCount:  cfg.VelocityHourlyCount,
		DailyCount:   cfg.VelocityDailyCount,
		HourlyAmount: cfg.VelocityHourlyAmount,
		DailyAmount:  cfg.VelocityDailyAmount,
	})

	feeSchedule := domain.FeeSchedule{
		PlatformRate:    cfg.PlatformFeeRate,
		GatewayRate:     cfg.GatewayFeeRate,
		GatewayFixedFee: cfg.GatewayFixedFee,
		InsuranceRate:   cfg.InsuranceFeeRate,
	}
	holds := service.HoldDurations{
		Standard: cfg.HoldStandard,
		Express:  cfg.HoldExpress,
		Urgent:   cfg.HoldUrgent,
	}

	payoutSvc := service.NewPayoutService(store, gw, notifier, service.PayoutConfig{
		Fees: domain.PayoutFeeSchedule{
			InstantRate: cfg.InstantPayoutFeeRate,
			InstantMin:  cfg.InstantPayoutFeeMin,
		},
		MinimumStandard: cfg.PayoutMinStandard,
		MinimumInstant:  cfg.PayoutMinInstant,
		GatewayTimeout:  cfg.GatewayTimeout,
	})
	intentSvc := service.NewPaymentIntentService(store, gw, gate, notifier, service.PaymentIntentConfig{
		Fees:           feeSchedule,
		MinimumAmount:  cfg.MinimumAmount,
		GatewayTimeout: cfg.GatewayTimeout,
		HoldDurations:  holds,
	})
	escrowSvc := service.NewEscrowService(store, payoutSvc, notifier, cfg.PlatformFeeRate, cfg.EscrowSweepBatch)
	refundSvc := service.NewRefundService(store, notifier)
	webhookSvc := service.NewWebhookService(store, notifier, cfg.WebhookHMACKey, cfg.WebhookSkipSignature, cfg.HoldStandard)
	reconcileSvc := service.NewReconciliationService(store, gw, webhookSvc, cfg.ReconcileStaleAfter, cfg.ReconcileSweepBatch)

	releaseWorker := worker.NewReleaseWorker(escrowSvc).WithInterval(cfg.EscrowSweepInterval)
	go releaseWorker.Start(ctx)
	reconcileWorker := worker.NewReconciliationWorker(reconcileSvc).WithInterval(cfg.ReconcileInterval)
	go reconcileWorker.Start(ctx)

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore, api.Services{
		Intents:  intentSvc,
		Escrows:  escrowSvc,
		Payouts:  payoutSvc,
		Refunds:  refundSvc,
		Webhooks: webhookSvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	releaseWorker.Stop()
	reconcileWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
