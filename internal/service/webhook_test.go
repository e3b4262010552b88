package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/gateway"
)

func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testHMACKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func eventPayload(t *testing.T, kind EventKind, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(Event{ID: "evt_" + uuid.NewString(), Type: kind, Data: raw})
	require.NoError(t, err)
	return payload
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, EventIntentSucceeded, map[string]string{"gateway_id": "pi_x"})

	err := env.webhooks.HandleEvent(context.Background(), payload, "deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	err = env.webhooks.HandleEvent(context.Background(), payload, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleEventRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id": "evt_1", "type":`)
	err := env.webhooks.HandleEvent(context.Background(), payload, signPayload(payload))
	require.ErrorIs(t, err, ErrValidation)
}

func TestHandleEventUnknownTypeAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, "charge.expired", map[string]string{"gateway_id": "ch_1"})
	require.NoError(t, env.webhooks.HandleEvent(context.Background(), payload, signPayload(payload)))
}

func TestHandleEventMissingRecord(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, EventIntentSucceeded, map[string]string{"gateway_id": "pi_unknown"})
	err := env.webhooks.HandleEvent(context.Background(), payload, signPayload(payload))
	require.ErrorIs(t, err, ErrEventRecordMissing)
}

func TestHandleEventSettlesProcessingIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Leave the intent stuck in processing, the way a lost confirm
	// response would.
	env.gw.confirmIntentFn = func(_ context.Context, gatewayID, _ string) (*gateway.IntentResult, error) {
		return &gateway.IntentResult{GatewayID: gatewayID, Status: gateway.IntentStatusProcessing}, nil
	}
	resp, err := env.intents.CreateIntent(ctx, env.createIntentReq(uuid.New(), nil, 10_000))
	require.NoError(t, err)
	_, err = env.intents.ConfirmIntent(ctx, ConfirmIntentRequest{IntentID: resp.Intent.ID, PaymentMethod: "pm_card_visa"})
	require.NoError(t, err)

	payload := eventPayload(t, EventIntentSucceeded, map[string]string{
		"gateway_id": resp.Intent.GatewayIntentID,
	})
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))

	intent, err := env.intents.GetIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.IntentStatusSucceeded, intent.Status)

	// The reconciler opened the escrow the lost confirm never did.
	escrow, err := env.escrows.GetEscrowByIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusHeld, escrow.Status)

	ledger, err := env.intents.IntentLedger(ctx, resp.Intent.ID)
	require.NoError(t, err)
	var categories []string
	for _, row := range ledger {
		categories = append(categories, row.Category)
	}
	require.Contains(t, categories, domain.TxCategoryReconciliation)

	require.Contains(t, env.notifier.Events, "payment_succeeded:"+resp.Intent.ID.String())

	// A replay of the same event changes nothing.
	before := len(env.store.Logs())
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))
	require.Len(t, env.store.Logs(), before)
}

func TestHandleEventNeverOverwritesTerminalIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intent, _ := env.confirmedIntent(t, 10_000)

	payload := eventPayload(t, EventIntentFailed, map[string]string{
		"gateway_id":     intent.GatewayIntentID,
		"failure_reason": "late decline",
	})
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))

	stored, err := env.intents.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.IntentStatusSucceeded, stored.Status)
	require.Nil(t, stored.FailureReason)
}

func TestHandleEventRecordsFailureReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.intents.CreateIntent(ctx, env.createIntentReq(uuid.New(), nil, 10_000))
	require.NoError(t, err)

	payload := eventPayload(t, EventIntentFailed, map[string]string{
		"gateway_id":     resp.Intent.GatewayIntentID,
		"failure_reason": "expired card",
	})
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))

	stored, err := env.intents.GetIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.IntentStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	require.Equal(t, "expired card", *stored.FailureReason)
}

func TestHandleEventPayoutPaid(t *testing.T) {
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
	require.Equal(t, gateway.PayoutStatusInTransit, payout.Status)

	arrived := time.Now().UTC().Truncate(time.Second)
	payload := eventPayload(t, EventPayoutPaid, payoutEventData{
		GatewayID: *payout.GatewayPayoutID,
		ArrivedAt: &arrived,
	})
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))

	stored, err := env.payouts.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusPaid, stored.Status)
	require.NotNil(t, stored.ArrivedAt)
	require.True(t, stored.ArrivedAt.Equal(arrived))

	// A late failure event cannot claw back a paid payout.
	failure := eventPayload(t, EventPayoutFailed, payoutEventData{
		GatewayID:     *payout.GatewayPayoutID,
		FailureReason: "too late",
	})
	require.NoError(t, env.webhooks.HandleEvent(ctx, failure, signPayload(failure)))
	stored, err = env.payouts.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusPaid, stored.Status)
}

func TestHandleEventAccountUpdated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	traveler := uuid.New()
	account := env.registerEligibleAccount(t, traveler, "USD")

	payload := eventPayload(t, EventAccountUpdated, accountEventData{
		GatewayID:      account.GatewayAccountID,
		Verified:       true,
		Active:         false,
		PayoutsEnabled: false,
	})
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))

	stored, err := env.payouts.GetPayoutAccount(ctx, traveler)
	require.NoError(t, err)
	require.False(t, stored.Active)
	require.False(t, stored.PayoutsEnabled)
	require.False(t, stored.CanReceivePayouts())

	// Replaying the same flags is a no-op.
	require.NoError(t, env.webhooks.HandleEvent(ctx, payload, signPayload(payload)))
}

func TestReconcileStaleIntents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Negative staleness treats every open intent as stale, which stands in
	// for backdating rows.
	recon := NewReconciliationService(env.store, env.gw, env.webhooks, -time.Minute, 50)

	resp, err := env.intents.CreateIntent(ctx, env.createIntentReq(uuid.New(), nil, 10_000))
	require.NoError(t, err)

	updated, err := recon.ReconcileStaleIntents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Equal(t, 1, env.gw.retrieveCalls)

	intent, err := env.intents.GetIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.IntentStatusSucceeded, intent.Status)

	// The reconciler goes through the same path webhooks do, so the escrow
	// opens here as well.
	_, err = env.escrows.GetEscrowByIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)

	// Terminal intents drop out of the stale listing.
	updated, err = recon.ReconcileStaleIntents(ctx)
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestReconcileSkipsNonTerminalGatewayStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recon := NewReconciliationService(env.store, env.gw, env.webhooks, -time.Minute, 50)
	env.gw.retrieveIntentFn = func(_ context.Context, gatewayID string) (*gateway.IntentResult, error) {
		return &gateway.IntentResult{GatewayID: gatewayID, Status: gateway.IntentStatusProcessing}, nil
	}

	resp, err := env.intents.CreateIntent(ctx, env.createIntentReq(uuid.New(), nil, 10_000))
	require.NoError(t, err)

	updated, err := recon.ReconcileStaleIntents(ctx)
	require.NoError(t, err)
	require.Zero(t, updated)

	intent, err := env.intents.GetIntent(ctx, resp.Intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.IntentStatusRequiresConfirmation, intent.Status)
}
