package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/fraud"
	"github.com/voyagepay/settlement-engine/internal/gateway"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/repository/memstore"
)

// stubGateway implements gateway.Client with overridable behavior and call
// counters, so tests can assert which calls the services actually made.
type stubGateway struct {
	createIntentFn   func(ctx context.Context, amount int64, currency string, metadata map[string]string) (*gateway.IntentResult, error)
	confirmIntentFn  func(ctx context.Context, gatewayID, paymentMethod string) (*gateway.IntentResult, error)
	cancelIntentFn   func(ctx context.Context, gatewayID, reason string) (*gateway.IntentResult, error)
	createPayoutFn   func(ctx context.Context, accountID string, amount int64, currency, method string) (*gateway.PayoutResult, error)
	retrieveIntentFn func(ctx context.Context, gatewayID string) (*gateway.IntentResult, error)

	createIntentCalls  int
	confirmIntentCalls int
	cancelIntentCalls  int
	createPayoutCalls  int
	retrieveCalls      int
}

func newStubGateway() *stubGateway {
	g := &stubGateway{}
	g.createIntentFn = func(_ context.Context, _ int64, _ string, _ map[string]string) (*gateway.IntentResult, error) {
		id := "pi_" + uuid.NewString()
		return &gateway.IntentResult{
			GatewayID:    id,
			ClientSecret: id + "_secret",
			Status:       gateway.IntentStatusRequiresConfirmation,
		}, nil
	}
	g.confirmIntentFn = func(_ context.Context, gatewayID, _ string) (*gateway.IntentResult, error) {
		return &gateway.IntentResult{GatewayID: gatewayID, Status: gateway.IntentStatusSucceeded}, nil
	}
	g.cancelIntentFn = func(_ context.Context, gatewayID, _ string) (*gateway.IntentResult, error) {
		return &gateway.IntentResult{GatewayID: gatewayID, Status: gateway.IntentStatusCanceled}, nil
	}
	g.createPayoutFn = func(_ context.Context, _ string, _ int64, _, _ string) (*gateway.PayoutResult, error) {
		return &gateway.PayoutResult{
			GatewayID:       "po_" + uuid.NewString(),
			Status:          gateway.PayoutStatusInTransit,
			ArrivalEstimate: time.Now().Add(48 * time.Hour),
		}, nil
	}
	g.retrieveIntentFn = func(_ context.Context, gatewayID string) (*gateway.IntentResult, error) {
		return &gateway.IntentResult{GatewayID: gatewayID, Status: gateway.IntentStatusSucceeded}, nil
	}
	return g
}

func (g *stubGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*gateway.IntentResult, error) {
	g.createIntentCalls++
	return g.createIntentFn(ctx, amount, currency, metadata)
}

func (g *stubGateway) ConfirmIntent(ctx context.Context, gatewayID, paymentMethod string) (*gateway.IntentResult, error) {
	g.confirmIntentCalls++
	return g.confirmIntentFn(ctx, gatewayID, paymentMethod)
}

func (g *stubGateway) CancelIntent(ctx context.Context, gatewayID, reason string) (*gateway.IntentResult, error) {
	g.cancelIntentCalls++
	return g.cancelIntentFn(ctx, gatewayID, reason)
}

func (g *stubGateway) CreatePayout(ctx context.Context, accountID string, amount int64, currency, method string) (*gateway.PayoutResult, error) {
	g.createPayoutCalls++
	return g.createPayoutFn(ctx, accountID, amount, currency, method)
}

func (g *stubGateway) RetrieveIntent(ctx context.Context, gatewayID string) (*gateway.IntentResult, error) {
	g.retrieveCalls++
	return g.retrieveIntentFn(ctx, gatewayID)
}

var _ gateway.Client = (*stubGateway)(nil)

const testHMACKey = "whsec_test_signing_key"

type testEnv struct {
	store    *memstore.Store
	gw       *stubGateway
	notifier *notify.Recorder

	intents  *PaymentIntentService
	escrows  *EscrowService
	payouts  *PayoutService
	refunds  *RefundService
	webhooks *WebhookService
	recon    *ReconciliationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memstore.New()
	gw := newStubGateway()
	notifier := &notify.Recorder{}

	history := fraud.NewStoreHistory(store, fraud.NewMemoryVelocity())
	geo := fraud.StaticGeoResolver{
		Countries: map[string]string{"203.0.113.10": "US"},
		HighRisk:  map[string]bool{},
	}
	gate := fraud.NewGate(history, geo, fraud.Limits{
		HourlyCount:  100,
		DailyCount:   500,
		HourlyAmount: 10_000_000,
		DailyAmount:  50_000_000,
	})

	fees := domain.FeeSchedule{
		PlatformRate:    decimal.RequireFromString("0.10"),
		GatewayRate:     decimal.RequireFromString("0.029"),
		GatewayFixedFee: 30,
		InsuranceRate:   decimal.Zero,
	}

	payouts := NewPayoutService(store, gw, notifier, PayoutConfig{
		Fees: domain.PayoutFeeSchedule{
			InstantRate: decimal.RequireFromString("0.015"),
			InstantMin:  50,
		},
		MinimumStandard: 100,
		MinimumInstant:  500,
		GatewayTimeout:  time.Second,
	})

	intents := NewPaymentIntentService(store, gw, gate, notifier, PaymentIntentConfig{
		Fees:           fees,
		MinimumAmount:  50,
		GatewayTimeout: time.Second,
		HoldDurations: HoldDurations{
			Standard: 72 * time.Hour,
			Express:  48 * time.Hour,
			Urgent:   24 * time.Hour,
		},
	})

	escrows := NewEscrowService(store, payouts, notifier, decimal.RequireFromString("0.10"), 50)
	refunds := NewRefundService(store, notifier)
	webhooks := NewWebhookService(store, notifier, testHMACKey, false, 72*time.Hour)
	recon := NewReconciliationService(store, gw, webhooks, 30*time.Minute, 50)

	return &testEnv{
		store:    store,
		gw:       gw,
		notifier: notifier,
		intents:  intents,
		escrows:  escrows,
		payouts:  payouts,
		refunds:  refunds,
		webhooks: webhooks,
		recon:    recon,
	}
}

func (e *testEnv) createIntentReq(customerID uuid.UUID, traveler *uuid.UUID, amount int64) CreateIntentRequest {
	return CreateIntentRequest{
		DeliveryID:        uuid.New(),
		CustomerID:        customerID,
		TravelerID:        traveler,
		Amount:            amount,
		Currency:          "USD",
		PaymentMethod:     "card",
		IPAddress:         "203.0.113.10",
		BillingCountry:    "US",
		DeviceFingerprint: fmt.Sprintf("fp-%s", customerID),
	}
}

// registerEligibleAccount onboards a traveler account that can receive
// payouts immediately.
func (e *testEnv) registerEligibleAccount(t *testing.T, travelerID uuid.UUID, currency string) *models.PayoutAccount {
	t.Helper()
	account, err := e.payouts.RegisterPayoutAccount(context.Background(), RegisterPayoutAccountRequest{
		TravelerID:       travelerID,
		GatewayAccountID: "acct_" + uuid.NewString(),
		Currency:         currency,
		Verified:         true,
		PayoutsEnabled:   true,
	})
	require.NoError(t, err)
	return account
}

// confirmedIntent runs the create+confirm flow end to end and returns the
// succeeded intent with its escrow account.
func (e *testEnv) confirmedIntent(t *testing.T, amount int64) (*models.PaymentIntent, *models.EscrowAccount) {
	t.Helper()
	ctx := context.Background()

	traveler := uuid.New()
	e.registerEligibleAccount(t, traveler, "USD")

	resp, err := e.intents.CreateIntent(ctx, e.createIntentReq(uuid.New(), &traveler, amount))
	require.NoError(t, err)

	intent, err := e.intents.ConfirmIntent(ctx, ConfirmIntentRequest{
		IntentID:      resp.Intent.ID,
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	require.Equal(t, domain.IntentStatusSucceeded, intent.Status)

	escrow, err := e.escrows.GetEscrowByIntent(ctx, intent.ID)
	require.NoError(t, err)
	return intent, escrow
}
