package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/gateway"
)

func TestProcessPayoutStandard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	traveler := uuid.New()
	env.registerEligibleAccount(t, traveler, "USD")

	payout, err := env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: traveler,
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeStandard,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10_000), payout.Amount)
	require.Equal(t, int64(0), payout.Fee)
	require.Equal(t, int64(10_000), payout.NetAmount)
	require.Equal(t, gateway.PayoutStatusInTransit, payout.Status)
	require.NotNil(t, payout.GatewayPayoutID)
	require.NotNil(t, payout.ArrivalEstimate)

	logs := env.store.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, domain.TxCategoryPayout, logs[0].Category)
	require.Equal(t, domain.TxStatusSucceeded, logs[0].Status)
	require.Equal(t, int64(10_000), logs[0].Amount)

	require.Contains(t, env.notifier.Events, "payout_processed:"+payout.ID.String())
}

func TestProcessPayoutInstantFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	traveler := uuid.New()
	env.registerEligibleAccount(t, traveler, "USD")

	payout, err := env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: traveler,
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeInstant,
	})
	require.NoError(t, err)
	require.Equal(t, int64(150), payout.Fee) // 1.5%
	require.Equal(t, int64(9_850), payout.NetAmount)
}

func TestProcessPayoutValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	traveler := uuid.New()

	tests := []struct {
		name    string
		req     ProcessPayoutRequest
		wantErr error
	}{
		{
			"standard below minimum",
			ProcessPayoutRequest{TravelerID: traveler, Amount: 50, Currency: "USD", Type: domain.PayoutTypeStandard},
			ErrAmountBelowPayoutMinimum,
		},
		{
			"instant below minimum",
			ProcessPayoutRequest{TravelerID: traveler, Amount: 400, Currency: "USD", Type: domain.PayoutTypeInstant},
			ErrAmountBelowPayoutMinimum,
		},
		{
			"unknown type",
			ProcessPayoutRequest{TravelerID: traveler, Amount: 10_000, Currency: "USD", Type: "overnight"},
			ErrValidation,
		},
		{
			"unsupported currency",
			ProcessPayoutRequest{TravelerID: traveler, Amount: 10_000, Currency: "JPY", Type: domain.PayoutTypeStandard},
			ErrUnsupportedCurrency,
		},
		{
			"missing traveler",
			ProcessPayoutRequest{Amount: 10_000, Currency: "USD", Type: domain.PayoutTypeStandard},
			ErrValidation,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.payouts.ProcessPayout(ctx, tc.req)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
	require.Zero(t, env.gw.createPayoutCalls)
}

func TestProcessPayoutEligibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No account at all.
	_, err := env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: uuid.New(),
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeStandard,
	})
	require.ErrorIs(t, err, ErrPayoutAccountNotEligible)

	// Unverified account.
	traveler := uuid.New()
	_, err = env.payouts.RegisterPayoutAccount(ctx, RegisterPayoutAccountRequest{
		TravelerID:       traveler,
		GatewayAccountID: "acct_unverified",
		Currency:         "USD",
		Verified:         false,
		PayoutsEnabled:   true,
	})
	require.NoError(t, err)

	_, err = env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: traveler,
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeStandard,
	})
	require.ErrorIs(t, err, ErrPayoutAccountNotEligible)
	require.Zero(t, env.gw.createPayoutCalls)
}

func TestProcessPayoutConvertsToAccountCurrency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	traveler := uuid.New()
	env.registerEligibleAccount(t, traveler, "EUR")

	var gotAmount int64
	var gotCurrency string
	base := env.gw.createPayoutFn
	env.gw.createPayoutFn = func(ctx context.Context, accountID string, amount int64, currency, method string) (*gateway.PayoutResult, error) {
		gotAmount, gotCurrency = amount, currency
		return base(ctx, accountID, amount, currency, method)
	}

	payout, err := env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: traveler,
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeStandard,
	})
	require.NoError(t, err)

	// The transfer settles in the account currency; the local payout row
	// keeps the source currency.
	require.Equal(t, int64(9_200), gotAmount)
	require.Equal(t, "EUR", gotCurrency)
	require.Equal(t, "USD", payout.Currency)
	require.Equal(t, int64(10_000), payout.NetAmount)
}

func TestProcessPayoutDeclineCommitsFailedRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	traveler := uuid.New()
	env.registerEligibleAccount(t, traveler, "USD")

	env.gw.createPayoutFn = func(context.Context, string, int64, string, string) (*gateway.PayoutResult, error) {
		return nil, &gateway.Error{Code: "insufficient_funds", Message: "platform balance too low"}
	}

	payout, err := env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: traveler,
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeStandard,
	})
	require.ErrorIs(t, err, ErrPayoutDeclined)

	// The declined attempt commits for the audit trail.
	require.NotNil(t, payout)
	require.Equal(t, domain.PayoutStatusFailed, payout.Status)
	require.NotNil(t, payout.FailureReason)

	stored, err := env.payouts.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, stored.Status)

	logs := env.store.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, domain.TxStatusFailed, logs[0].Status)
}

func TestProcessPayoutTransportErrorRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	traveler := uuid.New()
	env.registerEligibleAccount(t, traveler, "USD")

	env.gw.createPayoutFn = func(context.Context, string, int64, string, string) (*gateway.PayoutResult, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	}

	_, err := env.payouts.ProcessPayout(ctx, ProcessPayoutRequest{
		TravelerID: traveler,
		Amount:     10_000,
		Currency:   "USD",
		Type:       domain.PayoutTypeStandard,
	})
	require.ErrorIs(t, err, ErrGatewayFailure)

	// Unlike a decline, a transport error leaves no payout row behind.
	require.Empty(t, env.store.Payouts())
	require.Empty(t, env.store.Logs())
}

func TestRegisterPayoutAccountIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	traveler := uuid.New()

	first, err := env.payouts.RegisterPayoutAccount(ctx, RegisterPayoutAccountRequest{
		TravelerID:       traveler,
		GatewayAccountID: "acct_1",
		Currency:         "USD",
		Verified:         true,
		PayoutsEnabled:   true,
	})
	require.NoError(t, err)
	require.True(t, first.Active)

	second, err := env.payouts.RegisterPayoutAccount(ctx, RegisterPayoutAccountRequest{
		TravelerID:       traveler,
		GatewayAccountID: "acct_other",
		Currency:         "EUR",
		Verified:         false,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "acct_1", second.GatewayAccountID)
}

func TestGetPayoutNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.payouts.GetPayout(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
