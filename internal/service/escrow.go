package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// EscrowService manages the hold/release/dispute lifecycle of escrowed
// payment funds. Releases hand the payee amount to the payout processor
// inside the same transaction, so a failed payout rolls the release back.
type EscrowService struct {
	store        repository.Store
	payouts      *PayoutService
	notifier     notify.Notifier
	platformRate decimal.Decimal
	sweepBatch   int32
}

// NewEscrowService wires the escrow service.
func NewEscrowService(store repository.Store, payouts *PayoutService, notifier notify.Notifier, platformRate decimal.Decimal, sweepBatch int32) *EscrowService {
	return &EscrowService{
		store:        store,
		payouts:      payouts,
		notifier:     notifier,
		platformRate: platformRate,
		sweepBatch:   sweepBatch,
	}
}

// openEscrowTx creates the escrow account for a just-confirmed intent inside
// the caller's transaction. The escrow holds the item amount only; fees were
// collected at charge time and never enter escrow.
func openEscrowTx(ctx context.Context, st repository.Store, intent *models.PaymentIntent, holdFor time.Duration) (*models.EscrowAccount, error) {
	escrow := &models.EscrowAccount{
		ID:                 uuid.New(),
		PaymentIntentID:    intent.ID,
		Amount:             intent.Amount,
		Currency:           intent.Currency,
		Status:             domain.EscrowStatusHeld,
		HoldUntil:          time.Now().Add(holdFor),
		ReleaseCondition:   domain.ReleaseReasonDeliveryConfirmed,
		AutoReleaseEnabled: true,
	}
	if err := st.CreateEscrowAccount(ctx, escrow); err != nil {
		return nil, err
	}

	row := ledgerRow(domain.TxTypeCredit, domain.TxCategoryEscrowHold,
		escrow.Amount, escrow.Currency, domain.TxStatusSucceeded,
		"platform", "escrow:"+escrow.ID.String())
	row.PaymentIntentID = &intent.ID
	row.EscrowAccountID = &escrow.ID
	if err := appendLedger(ctx, st, row); err != nil {
		return nil, err
	}
	return escrow, nil
}

// availableAmount is what the escrow can still pay out or refund.
func availableAmount(e *models.EscrowAccount) int64 {
	return e.Amount - e.ReleasedAmount - e.DeductedAmount
}

// ReleaseEscrowRequest holds the parameters for releasing escrowed funds.
type ReleaseEscrowRequest struct {
	EscrowID uuid.UUID
	// Amount to release; ignored when ReleaseAll is set.
	Amount     int64
	ReleaseAll bool
	Reason     string

	// Deductions withheld from the release before fees.
	Damages        int64
	Penalties      int64
	AdditionalFees int64
}

// ReleaseEscrowResponse reports the money split of a completed release.
type ReleaseEscrowResponse struct {
	Escrow    *models.EscrowAccount   `json:"escrow"`
	Payout    *models.Payout          `json:"payout,omitempty"`
	Breakdown domain.ReleaseBreakdown `json:"breakdown"`
}

// ReleaseEscrow releases funds to the traveler under a row lock. Deductions
// and the platform fee come out first; the remainder is paid out in the same
// transaction. A concurrent second release loses the lock race and fails the
// state check.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, req ReleaseEscrowRequest) (*ReleaseEscrowResponse, error) {
	if req.EscrowID == uuid.Nil {
		return nil, validationf("escrow_id is required")
	}
	if req.Reason == "" {
		req.Reason = domain.ReleaseReasonDeliveryConfirmed
	}

	resp, err := s.releaseLocked(ctx, req, domain.EscrowStatusHeld)
	if err != nil {
		return nil, err
	}

	observability.RecordEscrowRelease(req.Reason)
	s.notifier.EscrowReleased(ctx, resp.Escrow, resp.Breakdown.PayeeAmount)
	return resp, nil
}

// releaseLocked performs the locked release. fromStatus is the status the
// escrow must be in (held for normal releases, disputed for resolutions).
func (s *EscrowService) releaseLocked(ctx context.Context, req ReleaseEscrowRequest, fromStatus string) (*ReleaseEscrowResponse, error) {
	var resp ReleaseEscrowResponse
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		escrow, err := st.GetEscrowAccountForUpdate(ctx, req.EscrowID)
		if err != nil {
			return mapNotFound(err)
		}
		if escrow.Status != fromStatus {
			return fmt.Errorf("%w: release from %s", ErrInvalidStateTransition, escrow.Status)
		}

		available := availableAmount(escrow)
		amount := req.Amount
		if req.ReleaseAll {
			amount = available
		}
		if amount <= 0 {
			return validationf("release amount must be positive")
		}
		if amount > available {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientEscrowBalance, amount, available)
		}

		breakdown := domain.ComputeReleaseBreakdown(amount, req.Damages, req.Penalties, req.AdditionalFees, s.platformRate)
		if breakdown.NetAmount <= 0 {
			return fmt.Errorf("%w: deductions %d exceed release amount %d", ErrInsufficientEscrowBalance, breakdown.DeductionsTotal, amount)
		}

		intent, err := st.GetPaymentIntent(ctx, escrow.PaymentIntentID)
		if err != nil {
			return err
		}
		if intent.TravelerID == nil {
			return validationf("payment intent has no traveler assigned")
		}

		escrow.ReleasedAmount += breakdown.NetAmount
		escrow.DeductedAmount += breakdown.DeductionsTotal
		if availableAmount(escrow) == 0 {
			now := time.Now()
			reason := req.Reason
			escrow.Status = domain.EscrowStatusReleased
			escrow.ReleaseReason = &reason
			escrow.ReleasedAt = &now
		}
		if err := st.UpdateEscrowAccount(ctx, escrow); err != nil {
			return err
		}

		row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryEscrowRelease,
			breakdown.NetAmount, escrow.Currency, domain.TxStatusSucceeded,
			"escrow:"+escrow.ID.String(), "traveler:"+intent.TravelerID.String())
		row.PaymentIntentID = &escrow.PaymentIntentID
		row.EscrowAccountID = &escrow.ID
		if err := appendLedger(ctx, st, row); err != nil {
			return err
		}

		payout, err := s.payouts.processPayoutTx(ctx, st, payoutSpec{
			TravelerID:      *intent.TravelerID,
			EscrowAccountID: &escrow.ID,
			Amount:          breakdown.PayeeAmount,
			Currency:        escrow.Currency,
			Type:            domain.PayoutTypeStandard,
		})
		if err != nil {
			return err
		}

		resp = ReleaseEscrowResponse{Escrow: escrow, Payout: payout, Breakdown: breakdown}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DisputeEscrowRequest holds the parameters for opening a dispute.
type DisputeEscrowRequest struct {
	EscrowID uuid.UUID
	Reason   string
	Evidence string
}

// DisputeEscrow freezes a held escrow. A disputed escrow never auto-releases;
// it waits for an explicit resolution.
func (s *EscrowService) DisputeEscrow(ctx context.Context, req DisputeEscrowRequest) (*models.EscrowAccount, error) {
	if req.EscrowID == uuid.Nil {
		return nil, validationf("escrow_id is required")
	}
	if req.Reason == "" {
		return nil, validationf("dispute reason is required")
	}

	var escrow *models.EscrowAccount
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		var err error
		escrow, err = st.GetEscrowAccountForUpdate(ctx, req.EscrowID)
		if err != nil {
			return mapNotFound(err)
		}
		if !domain.CanTransitionEscrow(escrow.Status, domain.EscrowStatusDisputed) {
			return fmt.Errorf("%w: dispute from %s", ErrInvalidStateTransition, escrow.Status)
		}

		now := time.Now()
		escrow.Status = domain.EscrowStatusDisputed
		escrow.DisputeReason = &req.Reason
		escrow.DisputedAt = &now
		escrow.AutoReleaseEnabled = false
		if req.Evidence != "" {
			escrow.DisputeEvidence = &req.Evidence
		}
		if err := st.UpdateEscrowAccount(ctx, escrow); err != nil {
			return err
		}

		row := ledgerRow(domain.TxTypeCredit, domain.TxCategoryEscrowDispute,
			availableAmount(escrow), escrow.Currency, domain.TxStatusPending,
			"escrow:"+escrow.ID.String(), "escrow:"+escrow.ID.String())
		row.PaymentIntentID = &escrow.PaymentIntentID
		row.EscrowAccountID = &escrow.ID
		return appendLedger(ctx, st, row)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.EscrowDisputed(ctx, escrow, req.Reason)
	return escrow, nil
}

// ResolveDisputeRequest holds the parameters for resolving a dispute.
type ResolveDisputeRequest struct {
	EscrowID   uuid.UUID
	Resolution string
	// TravelerAmount is the traveler's share for a partial split.
	TravelerAmount int64
	ResolvedBy     *uuid.UUID
	Note           string
}

// ResolveDisputeResponse reports the outcome of a resolution.
type ResolveDisputeResponse struct {
	Escrow *models.EscrowAccount `json:"escrow"`
	Payout *models.Payout        `json:"payout,omitempty"`
	Refund *models.Refund        `json:"refund,omitempty"`
}

// ResolveDispute settles a disputed escrow one of three ways: release
// everything to the traveler, refund everything to the customer, or split.
// The refund leg creates a pending refund row picked up by the refund
// workflow; it does not move gateway money here.
func (s *EscrowService) ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*ResolveDisputeResponse, error) {
	if req.EscrowID == uuid.Nil {
		return nil, validationf("escrow_id is required")
	}

	switch req.Resolution {
	case domain.ResolutionReleaseToTraveler:
		rel, err := s.releaseLocked(ctx, ReleaseEscrowRequest{
			EscrowID:   req.EscrowID,
			ReleaseAll: true,
			Reason:     domain.ReleaseReasonDisputeResolved,
		}, domain.EscrowStatusDisputed)
		if err != nil {
			return nil, err
		}
		observability.RecordEscrowRelease(domain.ReleaseReasonDisputeResolved)
		s.notifier.DisputeResolved(ctx, rel.Escrow, req.Resolution)
		return &ResolveDisputeResponse{Escrow: rel.Escrow, Payout: rel.Payout}, nil

	case domain.ResolutionRefundToCustomer:
		return s.resolveWithRefund(ctx, req, 0)

	case domain.ResolutionPartialSplit:
		if req.TravelerAmount <= 0 {
			return nil, validationf("traveler_amount must be positive for a partial split")
		}
		return s.resolveWithRefund(ctx, req, req.TravelerAmount)

	default:
		return nil, validationf("unknown resolution %q", req.Resolution)
	}
}

// resolveWithRefund settles a dispute where the customer gets money back.
// travelerAmount is zero for a full refund.
func (s *EscrowService) resolveWithRefund(ctx context.Context, req ResolveDisputeRequest, travelerAmount int64) (*ResolveDisputeResponse, error) {
	var resp ResolveDisputeResponse
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		escrow, err := st.GetEscrowAccountForUpdate(ctx, req.EscrowID)
		if err != nil {
			return mapNotFound(err)
		}
		if escrow.Status != domain.EscrowStatusDisputed {
			return fmt.Errorf("%w: resolve from %s", ErrEscrowNotDisputed, escrow.Status)
		}

		available := availableAmount(escrow)
		if travelerAmount > available {
			return fmt.Errorf("%w: traveler share %d exceeds available %d", ErrInsufficientEscrowBalance, travelerAmount, available)
		}
		customerAmount := available - travelerAmount

		intent, err := st.GetPaymentIntent(ctx, escrow.PaymentIntentID)
		if err != nil {
			return err
		}

		if travelerAmount > 0 {
			if intent.TravelerID == nil {
				return validationf("payment intent has no traveler assigned")
			}
			breakdown := domain.ComputeReleaseBreakdown(travelerAmount, 0, 0, 0, s.platformRate)
			payout, err := s.payouts.processPayoutTx(ctx, st, payoutSpec{
				TravelerID:      *intent.TravelerID,
				EscrowAccountID: &escrow.ID,
				Amount:          breakdown.PayeeAmount,
				Currency:        escrow.Currency,
				Type:            domain.PayoutTypeStandard,
			})
			if err != nil {
				return err
			}
			resp.Payout = payout
			escrow.ReleasedAmount += travelerAmount
		}

		now := time.Now()
		reason := domain.ReleaseReasonDisputeResolved
		escrow.DeductedAmount += customerAmount
		escrow.ReleaseReason = &reason
		escrow.ReleasedAt = &now
		if travelerAmount > 0 {
			escrow.Status = domain.EscrowStatusReleased
		} else {
			escrow.Status = domain.EscrowStatusRefunded
		}
		if err := st.UpdateEscrowAccount(ctx, escrow); err != nil {
			return err
		}

		if customerAmount > 0 {
			refund, err := createRefundTx(ctx, st, refundSpec{
				Intent:         intent,
				Amount:         customerAmount,
				Reason:         "dispute_resolved",
				CustomerRefund: customerAmount,
			})
			if err != nil {
				return err
			}
			resp.Refund = refund
		}

		row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryEscrowRelease,
			available, escrow.Currency, domain.TxStatusSucceeded,
			"escrow:"+escrow.ID.String(), "dispute_resolution")
		row.PaymentIntentID = &escrow.PaymentIntentID
		row.EscrowAccountID = &escrow.ID
		if err := appendLedger(ctx, st, row); err != nil {
			return err
		}

		resp.Escrow = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DisputeResolved(ctx, resp.Escrow, req.Resolution)
	if resp.Refund != nil {
		s.notifier.RefundProcessed(ctx, resp.Refund)
	}
	return &resp, nil
}

// ProcessAutoReleases releases every held escrow whose hold window has
// expired. Each escrow runs in its own transaction so one failure does not
// poison the sweep; the per-row re-check under the lock makes concurrent
// sweeps and manual releases safe.
func (s *EscrowService) ProcessAutoReleases(ctx context.Context) (int, error) {
	ids, err := s.store.ListAutoReleasableEscrows(ctx, time.Now(), s.sweepBatch)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		resp, err := s.releaseLocked(ctx, ReleaseEscrowRequest{
			EscrowID:   id,
			ReleaseAll: true,
			Reason:     domain.ReleaseReasonAutoTimeout,
		}, domain.EscrowStatusHeld)
		if err != nil {
			if errors.Is(err, ErrInvalidStateTransition) {
				continue // released or disputed since listing
			}
			zap.L().Error("auto release failed",
				zap.String("escrow_id", id.String()), zap.Error(err))
			continue
		}
		released++
		observability.RecordEscrowRelease(domain.ReleaseReasonAutoTimeout)
		s.notifier.EscrowReleased(ctx, resp.Escrow, resp.Breakdown.PayeeAmount)
	}
	return released, nil
}

// GetEscrow fetches an escrow account by id.
func (s *EscrowService) GetEscrow(ctx context.Context, escrowID uuid.UUID) (*models.EscrowAccount, error) {
	escrow, err := s.store.GetEscrowAccount(ctx, escrowID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return escrow, nil
}

// GetEscrowByIntent fetches the escrow opened for a payment intent.
func (s *EscrowService) GetEscrowByIntent(ctx context.Context, intentID uuid.UUID) (*models.EscrowAccount, error) {
	escrow, err := s.store.GetEscrowByPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return escrow, nil
}
