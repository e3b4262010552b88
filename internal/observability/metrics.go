package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	intentCreatedCounter  *prometheus.CounterVec
	fraudDecisionCounter  *prometheus.CounterVec
	escrowReleaseCounter  *prometheus.CounterVec
	payoutOutcomeCounter  *prometheus.CounterVec
	webhookEventCounter   *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		intentCreatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_intents_created_total",
			Help: "Payment intents created, by initial status",
		}, []string{"status"})

		fraudDecisionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_decisions_total",
			Help: "Fraud gate recommendations",
		}, []string{"recommendation"})

		escrowReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_releases_total",
			Help: "Escrow releases, by release reason",
		}, []string{"reason"})

		payoutOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_outcomes_total",
			Help: "Payout submissions and settlements, by status",
		}, []string{"status"})

		webhookEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Gateway webhook events received",
		}, []string{"type", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			intentCreatedCounter,
			fraudDecisionCounter,
			escrowReleaseCounter,
			payoutOutcomeCounter,
			webhookEventCounter,
			idempotencyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func RecordIntentCreated(status string) {
	if intentCreatedCounter == nil {
		return
	}
	intentCreatedCounter.WithLabelValues(status).Inc()
}

func RecordFraudDecision(recommendation string) {
	if fraudDecisionCounter == nil {
		return
	}
	fraudDecisionCounter.WithLabelValues(recommendation).Inc()
}

func RecordEscrowRelease(reason string) {
	if escrowReleaseCounter == nil {
		return
	}
	escrowReleaseCounter.WithLabelValues(reason).Inc()
}

func RecordPayoutOutcome(status string) {
	if payoutOutcomeCounter == nil {
		return
	}
	payoutOutcomeCounter.WithLabelValues(status).Inc()
}

func RecordWebhookEvent(eventType, outcome string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.WithLabelValues(eventType, outcome).Inc()
}

func RecordIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func RecordWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
