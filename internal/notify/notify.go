// Package notify fans settlement lifecycle events out to interested parties.
// The shipped implementation only logs; a real channel (email, push, webhook
// to the marketplace app) plugs in behind the same interface.
package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/models"
)

// Notifier receives lifecycle events after their transaction has committed.
// Implementations must not block the payment path; failures are logged and
// dropped.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, intent *models.PaymentIntent)
	PaymentFailed(ctx context.Context, intent *models.PaymentIntent, reason string)
	PaymentCanceled(ctx context.Context, intent *models.PaymentIntent)
	FraudReviewRequired(ctx context.Context, intent *models.PaymentIntent, score float64)
	EscrowReleased(ctx context.Context, escrow *models.EscrowAccount, payeeAmount int64)
	EscrowDisputed(ctx context.Context, escrow *models.EscrowAccount, reason string)
	DisputeResolved(ctx context.Context, escrow *models.EscrowAccount, resolution string)
	PayoutProcessed(ctx context.Context, payout *models.Payout)
	RefundProcessed(ctx context.Context, refund *models.Refund)
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct{}

// NewLogNotifier builds the logging notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) PaymentSucceeded(_ context.Context, intent *models.PaymentIntent) {
	zap.L().Info("notify: payment succeeded",
		zap.String("intent_id", intent.ID.String()),
		zap.Int64("amount", intent.Amount),
		zap.String("currency", intent.Currency))
}

func (LogNotifier) PaymentFailed(_ context.Context, intent *models.PaymentIntent, reason string) {
	zap.L().Info("notify: payment failed",
		zap.String("intent_id", intent.ID.String()),
		zap.String("reason", reason))
}

func (LogNotifier) PaymentCanceled(_ context.Context, intent *models.PaymentIntent) {
	zap.L().Info("notify: payment canceled",
		zap.String("intent_id", intent.ID.String()))
}

func (LogNotifier) FraudReviewRequired(_ context.Context, intent *models.PaymentIntent, score float64) {
	zap.L().Warn("notify: fraud review required",
		zap.String("intent_id", intent.ID.String()),
		zap.Float64("risk_score", score))
}

func (LogNotifier) EscrowReleased(_ context.Context, escrow *models.EscrowAccount, payeeAmount int64) {
	zap.L().Info("notify: escrow released",
		zap.String("escrow_id", escrow.ID.String()),
		zap.Int64("payee_amount", payeeAmount))
}

func (LogNotifier) EscrowDisputed(_ context.Context, escrow *models.EscrowAccount, reason string) {
	zap.L().Info("notify: escrow disputed",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("reason", reason))
}

func (LogNotifier) DisputeResolved(_ context.Context, escrow *models.EscrowAccount, resolution string) {
	zap.L().Info("notify: dispute resolved",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("resolution", resolution))
}

func (LogNotifier) PayoutProcessed(_ context.Context, payout *models.Payout) {
	zap.L().Info("notify: payout processed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("status", payout.Status))
}

func (LogNotifier) RefundProcessed(_ context.Context, refund *models.Refund) {
	zap.L().Info("notify: refund processed",
		zap.String("refund_id", refund.ID.String()),
		zap.Int64("customer_refund", refund.CustomerRefund))
}

var _ Notifier = (*LogNotifier)(nil)

// Recorder captures events for tests.
type Recorder struct {
	Events []string
}

func (r *Recorder) record(name string, id uuid.UUID) {
	r.Events = append(r.Events, name+":"+id.String())
}

func (r *Recorder) PaymentSucceeded(_ context.Context, i *models.PaymentIntent) {
	r.record("payment_succeeded", i.ID)
}
func (r *Recorder) PaymentFailed(_ context.Context, i *models.PaymentIntent, _ string) {
	r.record("payment_failed", i.ID)
}
func (r *Recorder) PaymentCanceled(_ context.Context, i *models.PaymentIntent) {
	r.record("payment_canceled", i.ID)
}
func (r *Recorder) FraudReviewRequired(_ context.Context, i *models.PaymentIntent, _ float64) {
	r.record("fraud_review_required", i.ID)
}
func (r *Recorder) EscrowReleased(_ context.Context, e *models.EscrowAccount, _ int64) {
	r.record("escrow_released", e.ID)
}
func (r *Recorder) EscrowDisputed(_ context.Context, e *models.EscrowAccount, _ string) {
	r.record("escrow_disputed", e.ID)
}
func (r *Recorder) DisputeResolved(_ context.Context, e *models.EscrowAccount, _ string) {
	r.record("dispute_resolved", e.ID)
}
func (r *Recorder) PayoutProcessed(_ context.Context, p *models.Payout) {
	r.record("payout_processed", p.ID)
}
func (r *Recorder) RefundProcessed(_ context.Context, f *models.Refund) {
	r.record("refund_processed", f.ID)
}

var _ Notifier = (*Recorder)(nil)
