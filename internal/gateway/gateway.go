package gateway

import (
	"context"
	"fmt"
	"time"
)

// Gateway-side payment intent statuses. These arrive verbatim from the
// external provider and are mapped onto local intent statuses by the caller.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusFailed                = "failed"
	IntentStatusCanceled              = "canceled"

	PayoutStatusPending   = "pending"
	PayoutStatusInTransit = "in_transit"
	PayoutStatusPaid      = "paid"
	PayoutStatusFailed    = "failed"
)

// IntentResult is the gateway's view of a payment intent after a call.
type IntentResult struct {
	GatewayID     string
	ClientSecret  string
	Status        string
	FailureReason string
	FailureCode   string
}

// PayoutResult is the gateway's view of a created payout.
type PayoutResult struct {
	GatewayID       string
	Status          string
	ArrivalEstimate time.Time
}

// Client is the narrow contract with the external payment gateway. All calls
// are synchronous; the gateway completes confirmations and payouts
// asynchronously and reports final outcomes via webhooks.
//
// Callers may retry on transient network errors but must never retry after
// an ambiguous (timeout) response without an idempotency key.
type Client interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*IntentResult, error)
	ConfirmIntent(ctx context.Context, gatewayID, paymentMethod string) (*IntentResult, error)
	CancelIntent(ctx context.Context, gatewayID, reason string) (*IntentResult, error)
	CreatePayout(ctx context.Context, accountID string, amount int64, currency, method string) (*PayoutResult, error)
	RetrieveIntent(ctx context.Context, gatewayID string) (*IntentResult, error)
}

// Error is a failure reported by the gateway itself (as opposed to a
// transport failure reaching it).
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}
