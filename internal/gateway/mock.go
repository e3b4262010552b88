package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockClient simulates the external payment gateway for local development.
// It introduces a small random delay and fails a configurable fraction of
// confirm and payout calls.
type MockClient struct {
	// FailureRate is the probability of a declined confirm/payout (0.0 to 1.0).
	FailureRate float64
	// Latency bounds the simulated network delay.
	Latency time.Duration

	mu      sync.Mutex
	intents map[string]string // gateway intent id -> status
}

// NewMockClient creates a MockClient with default settings.
func NewMockClient() *MockClient {
	return &MockClient{
		FailureRate: 0.1,
		Latency:     200 * time.Millisecond,
		intents:     make(map[string]string),
	}
}

func (g *MockClient) delay(ctx context.Context) error {
	if g.Latency <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(g.Latency)))
	select {
	case <-time.After(g.Latency + jitter):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway call canceled: %w", ctx.Err())
	}
}

func (g *MockClient) ref(prefix string) string {
	return fmt.Sprintf("%s_mock_%s_%05d", prefix, time.Now().Format("20060102150405"), rand.Intn(100000))
}

func (g *MockClient) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*IntentResult, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	id := g.ref("pi")
	g.mu.Lock()
	g.intents[id] = IntentStatusRequiresConfirmation
	g.mu.Unlock()
	return &IntentResult{
		GatewayID:    id,
		ClientSecret: g.ref("secret"),
		Status:       IntentStatusRequiresConfirmation,
	}, nil
}

func (g *MockClient) ConfirmIntent(ctx context.Context, gatewayID, paymentMethod string) (*IntentResult, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.intents[gatewayID]; !ok {
		return nil, &Error{Code: "resource_missing", Message: "no such payment intent"}
	}
	if rand.Float64() < g.FailureRate {
		g.intents[gatewayID] = IntentStatusFailed
		return &IntentResult{
			GatewayID:     gatewayID,
			Status:        IntentStatusFailed,
			FailureReason: "card declined",
			FailureCode:   "card_declined",
		}, nil
	}
	g.intents[gatewayID] = IntentStatusSucceeded
	return &IntentResult{GatewayID: gatewayID, Status: IntentStatusSucceeded}, nil
}

func (g *MockClient) CancelIntent(ctx context.Context, gatewayID, reason string) (*IntentResult, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.intents[gatewayID]; !ok {
		return nil, &Error{Code: "resource_missing", Message: "no such payment intent"}
	}
	g.intents[gatewayID] = IntentStatusCanceled
	return &IntentResult{GatewayID: gatewayID, Status: IntentStatusCanceled}, nil
}

func (g *MockClient) CreatePayout(ctx context.Context, accountID string, amount int64, currency, method string) (*PayoutResult, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	if rand.Float64() < g.FailureRate {
		return nil, &Error{Code: "account_unavailable", Message: "destination account cannot receive payouts"}
	}
	arrival := time.Now().Add(24 * time.Hour)
	if method == "instant" {
		arrival = time.Now().Add(30 * time.Minute)
	}
	return &PayoutResult{
		GatewayID:       g.ref("po"),
		Status:          PayoutStatusPending,
		ArrivalEstimate: arrival,
	}, nil
}

func (g *MockClient) RetrieveIntent(ctx context.Context, gatewayID string) (*IntentResult, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.intents[gatewayID]
	if !ok {
		return nil, &Error{Code: "resource_missing", Message: "no such payment intent"}
	}
	return &IntentResult{GatewayID: gatewayID, Status: status}, nil
}
