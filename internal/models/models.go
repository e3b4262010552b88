package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentIntent tracks a customer charge through the gateway lifecycle.
// Amounts are minor currency units (cents).
type PaymentIntent struct {
	ID              uuid.UUID  `json:"id"`
	DeliveryID      uuid.UUID  `json:"delivery_id"`
	GatewayIntentID string     `json:"gateway_intent_id"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	CustomerID      uuid.UUID  `json:"customer_id"`
	TravelerID      *uuid.UUID `json:"traveler_id,omitempty"`
	PlatformFee     int64      `json:"platform_fee"`
	ProcessingFee   int64      `json:"processing_fee"`
	InsuranceFee    int64      `json:"insurance_fee"`
	TotalFees       int64      `json:"total_fees"`
	RiskScore       float64    `json:"risk_score"`
	RiskLevel       string     `json:"risk_level"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FraudAnalysis stores the per-factor risk scores computed for an intent.
// Immutable after creation except the review fields.
type FraudAnalysis struct {
	ID              uuid.UUID  `json:"id"`
	PaymentIntentID uuid.UUID  `json:"payment_intent_id"`
	MethodScore     float64    `json:"method_score"`
	BehaviorScore   float64    `json:"behavior_score"`
	AmountScore     float64    `json:"amount_score"`
	GeoScore        float64    `json:"geo_score"`
	VelocityScore   float64    `json:"velocity_score"`
	DeviceScore     float64    `json:"device_score"`
	OverallScore    float64    `json:"overall_score"`
	RiskLevel       string     `json:"risk_level"`
	Recommendation  string     `json:"recommendation"`
	RequiresReview  bool       `json:"requires_review"`
	ReviewedBy      *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewDecision  *string    `json:"review_decision,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EscrowAccount holds confirmed payment funds until a release condition.
// Invariant: ReleasedAmount + DeductedAmount <= Amount.
type EscrowAccount struct {
	ID                 uuid.UUID  `json:"id"`
	PaymentIntentID    uuid.UUID  `json:"payment_intent_id"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	HoldUntil          time.Time  `json:"hold_until"`
	ReleaseCondition   string     `json:"release_condition"`
	AutoReleaseEnabled bool       `json:"auto_release_enabled"`
	ReleasedAmount     int64      `json:"released_amount"`
	DeductedAmount     int64      `json:"deducted_amount"`
	ReleaseReason      *string    `json:"release_reason,omitempty"`
	ReleasedAt         *time.Time `json:"released_at,omitempty"`
	DisputeReason      *string    `json:"dispute_reason,omitempty"`
	DisputeEvidence    *string    `json:"dispute_evidence,omitempty"`
	DisputedAt         *time.Time `json:"disputed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ReleasableAmount is what a release request may still draw from the escrow.
func (e EscrowAccount) ReleasableAmount() int64 {
	return e.Amount - e.DeductedAmount
}

// HoldExpired reports whether the hold window has elapsed.
func (e EscrowAccount) HoldExpired(now time.Time) bool {
	return !now.Before(e.HoldUntil)
}

// PayoutAccount is a traveler's destination account at the gateway.
type PayoutAccount struct {
	ID               uuid.UUID `json:"id"`
	TravelerID       uuid.UUID `json:"traveler_id"`
	GatewayAccountID string    `json:"gateway_account_id"`
	Currency         string    `json:"currency"`
	Verified         bool      `json:"verified"`
	Active           bool      `json:"active"`
	PayoutsEnabled   bool      `json:"payouts_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CanReceivePayouts reports whether the account is eligible for transfers.
func (a PayoutAccount) CanReceivePayouts() bool {
	return a.Verified && a.Active && a.PayoutsEnabled
}

// Payout is an outbound transfer to a traveler's payout account.
// Invariant: NetAmount = Amount - Fee.
type Payout struct {
	ID              uuid.UUID  `json:"id"`
	TravelerID      uuid.UUID  `json:"traveler_id"`
	PayoutAccountID uuid.UUID  `json:"payout_account_id"`
	EscrowAccountID *uuid.UUID `json:"escrow_account_id,omitempty"`
	Amount          int64      `json:"amount"`
	Fee             int64      `json:"fee"`
	NetAmount       int64      `json:"net_amount"`
	Currency        string     `json:"currency"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	GatewayPayoutID *string    `json:"gateway_payout_id,omitempty"`
	ArrivalEstimate *time.Time `json:"arrival_estimate,omitempty"`
	ArrivedAt       *time.Time `json:"arrived_at,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Refund records a three-way money split handed off to the refund workflow.
// Invariant: CustomerRefund + TravelerCompensation + PlatformFeeRefund = Amount.
type Refund struct {
	ID                   uuid.UUID `json:"id"`
	PaymentIntentID      uuid.UUID `json:"payment_intent_id"`
	Amount               int64     `json:"amount"`
	Currency             string    `json:"currency"`
	Reason               string    `json:"reason"`
	Status               string    `json:"status"`
	CustomerRefund       int64     `json:"customer_refund"`
	TravelerCompensation int64     `json:"traveler_compensation"`
	PlatformFeeRefund    int64     `json:"platform_fee_refund"`
	CreatedAt            time.Time `json:"created_at"`
}

// TransactionLog is an append-only ledger row for every money-affecting
// event. Rows are never updated once created; this is the audit and
// reconciliation source of truth.
type TransactionLog struct {
	ID              uuid.UUID  `json:"id"`
	PaymentIntentID *uuid.UUID `json:"payment_intent_id,omitempty"`
	EscrowAccountID *uuid.UUID `json:"escrow_account_id,omitempty"`
	PayoutID        *uuid.UUID `json:"payout_id,omitempty"`
	RefundID        *uuid.UUID `json:"refund_id,omitempty"`
	Type            string     `json:"type"`
	Category        string     `json:"category"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	FromRef         string     `json:"from_ref"`
	ToRef           string     `json:"to_ref"`
	GatewayRef      *string    `json:"gateway_ref,omitempty"`
	ProcessedAt     time.Time  `json:"processed_at"`
}
