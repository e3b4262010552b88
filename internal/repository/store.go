package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/voyagepay/settlement-engine/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

// UserPaymentStats aggregates a customer's payment history for fraud scoring.
type UserPaymentStats struct {
	TotalCount     int64
	SucceededCount int64
	FailedCount    int64
	FirstPaymentAt *time.Time
}

// Store is the data access contract for the settlement engine. The ForUpdate
// variants acquire a row-level write lock and are only meaningful inside
// RunInTx; update methods assume the caller holds that lock.
//
// TransactionLog rows are append-only: there is deliberately no update
// operation for them.
type Store interface {
	// RunInTx executes fn within a database transaction. fn receives a Store
	// scoped to that transaction; returning an error rolls everything back.
	RunInTx(ctx context.Context, fn func(Store) error) error

	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetPaymentIntentForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetPaymentIntentByGatewayID(ctx context.Context, gatewayID string) (*models.PaymentIntent, error)
	GetPaymentIntentByGatewayIDForUpdate(ctx context.Context, gatewayID string) (*models.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error
	ListStalePaymentIntents(ctx context.Context, olderThan time.Time, limit int32) ([]models.PaymentIntent, error)

	CreateFraudAnalysis(ctx context.Context, analysis *models.FraudAnalysis) error
	GetFraudAnalysisByIntent(ctx context.Context, intentID uuid.UUID) (*models.FraudAnalysis, error)
	UserPaymentStats(ctx context.Context, customerID uuid.UUID) (UserPaymentStats, error)

	CreateEscrowAccount(ctx context.Context, escrow *models.EscrowAccount) error
	GetEscrowAccount(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error)
	GetEscrowAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error)
	GetEscrowByPaymentIntent(ctx context.Context, intentID uuid.UUID) (*models.EscrowAccount, error)
	UpdateEscrowAccount(ctx context.Context, escrow *models.EscrowAccount) error
	ListAutoReleasableEscrows(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)

	CreatePayoutAccount(ctx context.Context, account *models.PayoutAccount) error
	GetPayoutAccountByTraveler(ctx context.Context, travelerID uuid.UUID) (*models.PayoutAccount, error)
	GetPayoutAccountByGatewayID(ctx context.Context, gatewayAccountID string) (*models.PayoutAccount, error)
	UpdatePayoutAccount(ctx context.Context, account *models.PayoutAccount) error

	CreatePayout(ctx context.Context, payout *models.Payout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetPayoutByGatewayIDForUpdate(ctx context.Context, gatewayPayoutID string) (*models.Payout, error)
	UpdatePayout(ctx context.Context, payout *models.Payout) error

	CreateRefund(ctx context.Context, refund *models.Refund) error

	AppendTransactionLog(ctx context.Context, row *models.TransactionLog) error
	ListTransactionLogsByIntent(ctx context.Context, intentID uuid.UUID) ([]models.TransactionLog, error)
}
