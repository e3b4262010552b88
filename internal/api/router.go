package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/api/handler"
	"github.com/voyagepay/settlement-engine/internal/api/middleware"
	"github.com/voyagepay/settlement-engine/internal/api/spec"
	"github.com/voyagepay/settlement-engine/internal/config"
	"github.com/voyagepay/settlement-engine/internal/idempotency"
	"github.com/voyagepay/settlement-engine/internal/service"
)

// Services groups the settlement services the router exposes.
type Services struct {
	Intents  *service.PaymentIntentService
	Escrows  *service.EscrowService
	Payouts  *service.PayoutService
	Refunds  *service.RefundService
	Webhooks *service.WebhookService
}

// Router assembles the HTTP surface of the settlement engine.
type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *pgxpool.Pool
	redis  redis.Cmdable
	idem   *idempotency.Store
	svcs   Services
}

// NewRouter creates a new Router instance.
func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redis redis.Cmdable, idem *idempotency.Store, svcs Services) *Router {
	return &Router{cfg: cfg, logger: logger, db: db, redis: redis, idem: idem, svcs: svcs}
}

// Routes builds the chi router.
func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(chiMiddleware.RealIP)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	paymentHandler := handler.NewPaymentHandler(api.svcs.Intents)
	escrowHandler := handler.NewEscrowHandler(api.svcs.Escrows)
	payoutHandler := handler.NewPayoutHandler(api.svcs.Payouts)
	webhookHandler := handler.NewWebhookHandler(api.svcs.Webhooks)

	// Public routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

		// The gateway authenticates with an HMAC signature, not a JWT.
		r.Post("/v1/webhooks/gateway", webhookHandler.HandleGatewayEvent)
	})

	// Protected routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		idem := middleware.IdempotencyMiddleware(api.idem, api.logger)

		// Payment intents
		r.With(idem).Post("/v1/payment-intents", paymentHandler.CreateIntent)
		r.With(idem).Post("/v1/payment-intents/{id}/confirm", paymentHandler.ConfirmIntent)
		r.With(idem).Post("/v1/payment-intents/{id}/cancel", paymentHandler.CancelIntent)
		r.Get("/v1/payment-intents/{id}", paymentHandler.GetIntent)
		r.Get("/v1/payment-intents/{id}/transactions", paymentHandler.GetIntentLedger)
		r.Get("/v1/payment-intents/{id}/fraud-analysis", paymentHandler.GetFraudAnalysis)

		// Escrow
		r.Get("/v1/escrows/{id}", escrowHandler.GetEscrow)
		r.With(idem).Post("/v1/escrows/{id}/release", escrowHandler.Release)
		r.With(idem).Post("/v1/escrows/{id}/dispute", escrowHandler.Dispute)
		r.With(idem).Post("/v1/escrows/{id}/resolve", escrowHandler.Resolve)

		// Payouts
		r.With(idem).Post("/v1/payouts", payoutHandler.CreatePayout)
		r.Get("/v1/payouts/{id}", payoutHandler.GetPayout)
		r.With(idem).Post("/v1/payout-accounts", payoutHandler.RegisterAccount)
		r.Get("/v1/payout-accounts/{travelerID}", payoutHandler.GetAccount)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, http.StatusNotFound, "not_found", "route not found")
	})

	return r
}
