package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// RefundService creates refund rows for failed or resolved payments. Rows
// start pending; the gateway webhook moves them to their final status once
// the money actually returns.
type RefundService struct {
	store    repository.Store
	notifier notify.Notifier
}

// NewRefundService wires the refund service.
func NewRefundService(store repository.Store, notifier notify.Notifier) *RefundService {
	return &RefundService{store: store, notifier: notifier}
}

// refundSpec is the internal request for one refund row.
type refundSpec struct {
	Intent *models.PaymentIntent
	Amount int64
	Reason string

	CustomerRefund       int64
	TravelerCompensation int64
	PlatformFeeRefund    int64
}

// createRefundTx writes a pending refund and its ledger row inside the
// caller's transaction. The three-way split must account for every minor
// unit of the refund amount.
func createRefundTx(ctx context.Context, st repository.Store, spec refundSpec) (*models.Refund, error) {
	if spec.Amount <= 0 {
		return nil, validationf("refund amount must be positive")
	}
	if spec.CustomerRefund+spec.TravelerCompensation+spec.PlatformFeeRefund != spec.Amount {
		return nil, validationf("refund split does not sum to %d", spec.Amount)
	}

	refund := &models.Refund{
		ID:                   uuid.New(),
		PaymentIntentID:      spec.Intent.ID,
		Amount:               spec.Amount,
		Currency:             spec.Intent.Currency,
		Reason:               spec.Reason,
		Status:               domain.RefundStatusPending,
		CustomerRefund:       spec.CustomerRefund,
		TravelerCompensation: spec.TravelerCompensation,
		PlatformFeeRefund:    spec.PlatformFeeRefund,
	}
	if err := st.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	row := ledgerRow(domain.TxTypeCredit, domain.TxCategoryRefund,
		spec.Amount, spec.Intent.Currency, domain.TxStatusPending,
		"platform", "customer:"+spec.Intent.CustomerID.String())
	row.PaymentIntentID = &spec.Intent.ID
	row.RefundID = &refund.ID
	if err := appendLedger(ctx, st, row); err != nil {
		return nil, err
	}
	return refund, nil
}

// CreateRefundRequest holds the parameters for a direct refund.
type CreateRefundRequest struct {
	IntentID             uuid.UUID
	Amount               int64
	Reason               string
	CustomerRefund       int64
	TravelerCompensation int64
	PlatformFeeRefund    int64
}

// CreateRefund records a refund against a payment intent. Only succeeded
// payments can be refunded; canceled intents never charged the customer.
func (s *RefundService) CreateRefund(ctx context.Context, req CreateRefundRequest) (*models.Refund, error) {
	if req.IntentID == uuid.Nil {
		return nil, validationf("intent_id is required")
	}
	if req.Reason == "" {
		return nil, validationf("reason is required")
	}

	var refund *models.Refund
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		intent, err := st.GetPaymentIntentForUpdate(ctx, req.IntentID)
		if err != nil {
			return mapNotFound(err)
		}
		if intent.Status != domain.IntentStatusSucceeded {
			return fmt.Errorf("%w: refund from %s", ErrInvalidStateTransition, intent.Status)
		}
		if req.Amount > intent.Amount+intent.TotalFees {
			return validationf("refund %d exceeds charged amount %d", req.Amount, intent.Amount+intent.TotalFees)
		}

		refund, err = createRefundTx(ctx, st, refundSpec{
			Intent:               intent,
			Amount:               req.Amount,
			Reason:               req.Reason,
			CustomerRefund:       req.CustomerRefund,
			TravelerCompensation: req.TravelerCompensation,
			PlatformFeeRefund:    req.PlatformFeeRefund,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.RefundProcessed(ctx, refund)
	return refund, nil
}
