package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

func newIntent(customerID uuid.UUID) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:              uuid.New(),
		CustomerID:      customerID,
		GatewayIntentID: "pi_" + uuid.NewString(),
		Amount:          10_000,
		Currency:        "USD",
		Status:          domain.IntentStatusRequiresConfirmation,
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	intent := newIntent(uuid.New())
	err := s.RunInTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.CreatePaymentIntent(ctx, intent))
		require.NoError(t, tx.AppendTransactionLog(ctx, &models.TransactionLog{
			ID:              uuid.New(),
			PaymentIntentID: &intent.ID,
			Type:            domain.TxTypeDebit,
			Amount:          10_000,
			Currency:        "USD",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPaymentIntent(ctx, intent.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Empty(t, s.Logs())
}

func TestRunInTxCommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	intent := newIntent(uuid.New())
	err := s.RunInTx(ctx, func(tx repository.Store) error {
		return tx.CreatePaymentIntent(ctx, intent)
	})
	require.NoError(t, err)

	got, err := s.GetPaymentIntent(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, intent.ID, got.ID)

	byGateway, err := s.GetPaymentIntentByGatewayID(ctx, intent.GatewayIntentID)
	require.NoError(t, err)
	require.Equal(t, intent.ID, byGateway.ID)
}

func TestNestedRunInTxSharesScope(t *testing.T) {
	s := New()
	ctx := context.Background()

	intent := newIntent(uuid.New())
	err := s.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.CreatePaymentIntent(ctx, intent); err != nil {
			return err
		}
		// A nested call must see the outer transaction's writes.
		return tx.RunInTx(ctx, func(inner repository.Store) error {
			_, err := inner.GetPaymentIntent(ctx, intent.ID)
			return err
		})
	})
	require.NoError(t, err)
}

func TestUserPaymentStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	customer := uuid.New()

	for _, status := range []string{
		domain.IntentStatusSucceeded,
		domain.IntentStatusSucceeded,
		domain.IntentStatusFailed,
		domain.IntentStatusProcessing,
	} {
		pi := newIntent(customer)
		pi.Status = status
		require.NoError(t, s.CreatePaymentIntent(ctx, pi))
	}
	require.NoError(t, s.CreatePaymentIntent(ctx, newIntent(uuid.New())))

	stats, err := s.UserPaymentStats(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, int64(4), stats.TotalCount)
	require.Equal(t, int64(2), stats.SucceededCount)
	require.Equal(t, int64(1), stats.FailedCount)
	require.NotNil(t, stats.FirstPaymentAt)
}

func TestListAutoReleasableEscrows(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	expired := &models.EscrowAccount{
		ID:                 uuid.New(),
		PaymentIntentID:    uuid.New(),
		Amount:             10_000,
		Currency:           "USD",
		Status:             domain.EscrowStatusHeld,
		AutoReleaseEnabled: true,
		HoldUntil:          now.Add(-time.Hour),
	}
	active := &models.EscrowAccount{
		ID:                 uuid.New(),
		PaymentIntentID:    uuid.New(),
		Amount:             10_000,
		Currency:           "USD",
		Status:             domain.EscrowStatusHeld,
		AutoReleaseEnabled: true,
		HoldUntil:          now.Add(time.Hour),
	}
	disputed := &models.EscrowAccount{
		ID:                 uuid.New(),
		PaymentIntentID:    uuid.New(),
		Amount:             10_000,
		Currency:           "USD",
		Status:             domain.EscrowStatusDisputed,
		AutoReleaseEnabled: false,
		HoldUntil:          now.Add(-time.Hour),
	}
	for _, e := range []*models.EscrowAccount{expired, active, disputed} {
		require.NoError(t, s.CreateEscrowAccount(ctx, e))
	}

	ids, err := s.ListAutoReleasableEscrows(ctx, now, 50)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{expired.ID}, ids)
}
