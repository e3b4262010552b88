package domain

// PaymentIntent statuses. Terminal statuses are never transitioned away from,
// neither by the intent manager nor by the webhook reconciler.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusFailed                = "failed"
	IntentStatusCanceled              = "canceled"
)

// EscrowAccount statuses.
const (
	EscrowStatusPending  = "pending"
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusDisputed = "disputed"
	EscrowStatusRefunded = "refunded"
)

// Payout statuses and types.
const (
	PayoutStatusPending   = "pending"
	PayoutStatusInTransit = "in_transit"
	PayoutStatusPaid      = "paid"
	PayoutStatusFailed    = "failed"
	PayoutStatusCanceled  = "canceled"

	PayoutTypeStandard = "standard"
	PayoutTypeInstant  = "instant"
)

// Refund statuses.
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
	RefundStatusCanceled  = "canceled"
)

// TransactionLog row types and categories. Log rows are append-only: one row
// per attempted state change, including failures.
const (
	TxTypeCredit = "credit"
	TxTypeDebit  = "debit"

	TxCategoryIntentCreated  = "payment_intent_created"
	TxCategoryConfirmation   = "payment_confirmation"
	TxCategoryCancellation   = "payment_cancellation"
	TxCategoryEscrowHold     = "escrow_hold"
	TxCategoryEscrowRelease  = "escrow_release"
	TxCategoryEscrowDispute  = "escrow_dispute"
	TxCategoryPayout         = "payout"
	TxCategoryRefund         = "refund"
	TxCategoryReconciliation = "reconciliation"

	TxStatusPending   = "pending"
	TxStatusSucceeded = "succeeded"
	TxStatusFailed    = "failed"
)

// Fraud risk levels and recommendations.
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"

	RecommendationApprove = "approve"
	RecommendationReview  = "review"
	RecommendationBlock   = "block"
)

// Escrow release reasons.
const (
	ReleaseReasonDeliveryConfirmed = "delivery_confirmed"
	ReleaseReasonManualApproval    = "manual_approval"
	ReleaseReasonDisputeResolved   = "dispute_resolved"
	ReleaseReasonAutoTimeout       = "auto_release_timeout"
)

// Dispute resolution kinds.
const (
	ResolutionReleaseToTraveler = "release_to_traveler"
	ResolutionRefundToCustomer  = "refund_to_customer"
	ResolutionPartialSplit      = "partial_split"
)

// Delivery urgency tiers controlling escrow hold duration.
const (
	UrgencyStandard = "standard"
	UrgencyExpress  = "express"
	UrgencyUrgent   = "urgent"
)
