package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/gateway"
)

func TestReleaseEscrowFullWithDeductions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	resp, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID:   escrow.ID,
		ReleaseAll: true,
		Reason:     domain.ReleaseReasonDeliveryConfirmed,
		Damages:    500,
	})
	require.NoError(t, err)

	require.Equal(t, int64(10_000), resp.Breakdown.ReleaseAmount)
	require.Equal(t, int64(500), resp.Breakdown.DeductionsTotal)
	require.Equal(t, int64(9_500), resp.Breakdown.NetAmount)
	require.Equal(t, int64(950), resp.Breakdown.PlatformFee)
	require.Equal(t, int64(8_550), resp.Breakdown.PayeeAmount)

	require.Equal(t, domain.EscrowStatusReleased, resp.Escrow.Status)
	require.Equal(t, int64(9_500), resp.Escrow.ReleasedAmount)
	require.Equal(t, int64(500), resp.Escrow.DeductedAmount)
	require.NotNil(t, resp.Escrow.ReleasedAt)
	require.NotNil(t, resp.Escrow.ReleaseReason)
	require.Equal(t, domain.ReleaseReasonDeliveryConfirmed, *resp.Escrow.ReleaseReason)

	require.NotNil(t, resp.Payout)
	require.Equal(t, int64(8_550), resp.Payout.Amount)
	require.Equal(t, int64(0), resp.Payout.Fee)
	require.Equal(t, domain.PayoutTypeStandard, resp.Payout.Type)
	require.Equal(t, gateway.PayoutStatusInTransit, resp.Payout.Status)

	require.Contains(t, env.notifier.Events, "escrow_released:"+escrow.ID.String())
}

func TestReleaseEscrowPartialThenRemainder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	first, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID: escrow.ID,
		Amount:   4_000,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusHeld, first.Escrow.Status)
	require.Equal(t, int64(4_000), first.Escrow.ReleasedAmount)
	require.Equal(t, int64(3_600), first.Breakdown.PayeeAmount)

	second, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID:   escrow.ID,
		ReleaseAll: true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusReleased, second.Escrow.Status)
	require.Equal(t, int64(6_000), second.Breakdown.ReleaseAmount)
	require.Equal(t, int64(10_000), second.Escrow.ReleasedAmount)

	// A third release finds the escrow already settled.
	_, err = env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{EscrowID: escrow.ID, ReleaseAll: true})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestReleaseEscrowConcurrentDoubleRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
				EscrowID:   escrow.ID,
				ReleaseAll: true,
			})
			errs <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvalidStateTransition):
			rejected++
		default:
			t.Fatalf("unexpected release error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)

	final, err := env.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusReleased, final.Status)
	require.Equal(t, final.Amount, final.ReleasedAmount+final.DeductedAmount)
	require.Len(t, env.store.Payouts(), 1)
}

func TestReleaseEscrowSmallPartialBelowPayoutMinimum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	// A 100-cent release nets a 90-cent payee amount, under the standalone
	// standard minimum. The settlement still transfers it.
	resp, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID: escrow.ID,
		Amount:   100,
	})
	require.NoError(t, err)

	require.Equal(t, int64(90), resp.Breakdown.PayeeAmount)
	require.NotNil(t, resp.Payout)
	require.Equal(t, int64(90), resp.Payout.Amount)
	require.Equal(t, gateway.PayoutStatusInTransit, resp.Payout.Status)
	require.Equal(t, domain.EscrowStatusHeld, resp.Escrow.Status)
	require.Equal(t, int64(100), resp.Escrow.ReleasedAmount)
}

func TestReleaseEscrowOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)
	_, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID: escrow.ID,
		Amount:   15_000,
	})
	require.ErrorIs(t, err, ErrInsufficientEscrowBalance)
}

func TestReleaseEscrowDeductionsExceedingRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)
	_, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID:   escrow.ID,
		ReleaseAll: true,
		Damages:    12_000,
	})
	require.ErrorIs(t, err, ErrInsufficientEscrowBalance)
}

func TestReleaseEscrowPayoutDeclineRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	env.gw.createPayoutFn = func(context.Context, string, int64, string, string) (*gateway.PayoutResult, error) {
		return nil, &gateway.Error{Code: "account_frozen", Message: "destination account frozen"}
	}

	_, err := env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{
		EscrowID:   escrow.ID,
		ReleaseAll: true,
	})
	require.ErrorIs(t, err, ErrPayoutDeclined)

	// A declined payout rolls the whole release back: the escrow is
	// untouched and no payout row survives.
	stored, err := env.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusHeld, stored.Status)
	require.Equal(t, int64(0), stored.ReleasedAmount)
	require.Empty(t, env.store.Payouts())
}

func TestReleaseEscrowWithoutPayoutAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Confirm a payment whose traveler never onboarded a payout account.
	traveler := uuid.New()
	resp, err := env.intents.CreateIntent(ctx, env.createIntentReq(uuid.New(), &traveler, 10_000))
	require.NoError(t, err)
	_, err = env.intents.ConfirmIntent(ctx, ConfirmIntentRequest{IntentID: resp.Intent.ID, PaymentMethod: "pm_card_visa"})
	require.NoError(t, err)
	escrow, err := env.escrows.GetEscrowByIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)

	_, err = env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{EscrowID: escrow.ID, ReleaseAll: true})
	require.ErrorIs(t, err, ErrPayoutAccountNotEligible)

	stored, err := env.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusHeld, stored.Status)
}

func TestDisputeEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	disputed, err := env.escrows.DisputeEscrow(ctx, DisputeEscrowRequest{
		EscrowID: escrow.ID,
		Reason:   "item not as described",
		Evidence: "photos attached",
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusDisputed, disputed.Status)
	require.False(t, disputed.AutoReleaseEnabled)
	require.NotNil(t, disputed.DisputeReason)
	require.NotNil(t, disputed.DisputedAt)
	require.Contains(t, env.notifier.Events, "escrow_disputed:"+escrow.ID.String())

	// Disputed escrows reject both a second dispute and a normal release.
	_, err = env.escrows.DisputeEscrow(ctx, DisputeEscrowRequest{EscrowID: escrow.ID, Reason: "again"})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = env.escrows.ReleaseEscrow(ctx, ReleaseEscrowRequest{EscrowID: escrow.ID, ReleaseAll: true})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestDisputeEscrowRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	_, escrow := env.confirmedIntent(t, 10_000)
	_, err := env.escrows.DisputeEscrow(context.Background(), DisputeEscrowRequest{EscrowID: escrow.ID})
	require.ErrorIs(t, err, ErrValidation)
}

func disputedEscrow(t *testing.T, env *testEnv, amount int64) uuid.UUID {
	t.Helper()
	_, escrow := env.confirmedIntent(t, amount)
	_, err := env.escrows.DisputeEscrow(context.Background(), DisputeEscrowRequest{
		EscrowID: escrow.ID,
		Reason:   "delivery contested",
	})
	require.NoError(t, err)
	return escrow.ID
}

func TestResolveDisputeReleaseToTraveler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrowID := disputedEscrow(t, env, 10_000)

	resp, err := env.escrows.ResolveDispute(ctx, ResolveDisputeRequest{
		EscrowID:   escrowID,
		Resolution: domain.ResolutionReleaseToTraveler,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusReleased, resp.Escrow.Status)
	require.NotNil(t, resp.Payout)
	require.Equal(t, int64(9_000), resp.Payout.Amount) // 10% platform fee withheld
	require.Nil(t, resp.Refund)
	require.Contains(t, env.notifier.Events, "dispute_resolved:"+escrowID.String())
}

func TestResolveDisputeRefundToCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrowID := disputedEscrow(t, env, 10_000)

	resp, err := env.escrows.ResolveDispute(ctx, ResolveDisputeRequest{
		EscrowID:   escrowID,
		Resolution: domain.ResolutionRefundToCustomer,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusRefunded, resp.Escrow.Status)
	require.Nil(t, resp.Payout)
	require.NotNil(t, resp.Refund)
	require.Equal(t, int64(10_000), resp.Refund.Amount)
	require.Equal(t, int64(10_000), resp.Refund.CustomerRefund)
	require.Equal(t, domain.RefundStatusPending, resp.Refund.Status)
	require.Empty(t, env.store.Payouts())
}

func TestResolveDisputePartialSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	escrowID := disputedEscrow(t, env, 10_000)

	resp, err := env.escrows.ResolveDispute(ctx, ResolveDisputeRequest{
		EscrowID:       escrowID,
		Resolution:     domain.ResolutionPartialSplit,
		TravelerAmount: 4_000,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusReleased, resp.Escrow.Status)
	require.Equal(t, int64(4_000), resp.Escrow.ReleasedAmount)
	require.Equal(t, int64(6_000), resp.Escrow.DeductedAmount)

	require.NotNil(t, resp.Payout)
	require.Equal(t, int64(3_600), resp.Payout.Amount) // 4000 minus 10% platform fee

	require.NotNil(t, resp.Refund)
	require.Equal(t, int64(6_000), resp.Refund.Amount)
	require.Equal(t, resp.Refund.Amount,
		resp.Refund.CustomerRefund+resp.Refund.TravelerCompensation+resp.Refund.PlatformFeeRefund)
}

func TestResolveDisputeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, escrow := env.confirmedIntent(t, 10_000)

	// Resolving an undisputed escrow fails.
	_, err := env.escrows.ResolveDispute(ctx, ResolveDisputeRequest{
		EscrowID:   escrow.ID,
		Resolution: domain.ResolutionRefundToCustomer,
	})
	require.ErrorIs(t, err, ErrEscrowNotDisputed)

	_, err = env.escrows.ResolveDispute(ctx, ResolveDisputeRequest{
		EscrowID:   escrow.ID,
		Resolution: "flip_a_coin",
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.escrows.ResolveDispute(ctx, ResolveDisputeRequest{
		EscrowID:   escrow.ID,
		Resolution: domain.ResolutionPartialSplit,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestProcessAutoReleases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, expired := env.confirmedIntent(t, 10_000)
	_, active := env.confirmedIntent(t, 20_000)
	disputedID := disputedEscrow(t, env, 5_000)

	// Backdate one hold window past expiry.
	expired.HoldUntil = time.Now().Add(-time.Hour)
	require.NoError(t, env.store.UpdateEscrowAccount(ctx, expired))

	released, err := env.escrows.ProcessAutoReleases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	stored, err := env.escrows.GetEscrow(ctx, expired.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusReleased, stored.Status)
	require.Equal(t, domain.ReleaseReasonAutoTimeout, *stored.ReleaseReason)

	// The unexpired and disputed escrows are untouched.
	stored, err = env.escrows.GetEscrow(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusHeld, stored.Status)
	stored, err = env.escrows.GetEscrow(ctx, disputedID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusDisputed, stored.Status)

	// A second sweep finds nothing to do.
	released, err = env.escrows.ProcessAutoReleases(ctx)
	require.NoError(t, err)
	require.Zero(t, released)
}
