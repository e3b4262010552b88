package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voyagepay/settlement-engine/internal/domain"
)

func TestCreateRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intent, _ := env.confirmedIntent(t, 10_000)

	refund, err := env.refunds.CreateRefund(ctx, CreateRefundRequest{
		IntentID:          intent.ID,
		Amount:            11_320,
		Reason:            "delivery never happened",
		CustomerRefund:    10_000,
		PlatformFeeRefund: 1_320,
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundStatusPending, refund.Status)
	require.Equal(t, int64(11_320), refund.Amount)
	require.Equal(t, int64(10_000), refund.CustomerRefund)
	require.Equal(t, int64(1_320), refund.PlatformFeeRefund)

	ledger, err := env.intents.IntentLedger(ctx, intent.ID)
	require.NoError(t, err)
	last := ledger[len(ledger)-1]
	require.Equal(t, domain.TxTypeCredit, last.Type)
	require.Equal(t, domain.TxCategoryRefund, last.Category)
	require.Equal(t, domain.TxStatusPending, last.Status)

	require.Contains(t, env.notifier.Events, "refund_processed:"+refund.ID.String())
}

func TestCreateRefundRequiresSucceededIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.intents.CreateIntent(ctx, env.createIntentReq(uuid.New(), nil, 10_000))
	require.NoError(t, err)

	_, err = env.refunds.CreateRefund(ctx, CreateRefundRequest{
		IntentID:       resp.Intent.ID,
		Amount:         10_000,
		Reason:         "not charged yet",
		CustomerRefund: 10_000,
	})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCreateRefundValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intent, _ := env.confirmedIntent(t, 10_000)

	tests := []struct {
		name string
		req  CreateRefundRequest
	}{
		{
			"split does not sum",
			CreateRefundRequest{IntentID: intent.ID, Amount: 10_000, Reason: "r", CustomerRefund: 9_000},
		},
		{
			"exceeds charged amount",
			CreateRefundRequest{IntentID: intent.ID, Amount: 20_000, Reason: "r", CustomerRefund: 20_000},
		},
		{
			"zero amount",
			CreateRefundRequest{IntentID: intent.ID, Reason: "r"},
		},
		{
			"missing reason",
			CreateRefundRequest{IntentID: intent.ID, Amount: 1_000, CustomerRefund: 1_000},
		},
		{
			"missing intent",
			CreateRefundRequest{Amount: 1_000, Reason: "r", CustomerRefund: 1_000},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.refunds.CreateRefund(ctx, tc.req)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	require.Empty(t, env.store.Refunds())
}

func TestCreateRefundNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.refunds.CreateRefund(context.Background(), CreateRefundRequest{
		IntentID:       uuid.New(),
		Amount:         1_000,
		Reason:         "r",
		CustomerRefund: 1_000,
	})
	require.ErrorIs(t, err, ErrNotFound)
}
