package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// ledgerRow builds an append-only transaction log entry. Every money-affecting
// state change writes one, including failed attempts, inside the same
// transaction as the change itself.
func ledgerRow(txType, category string, amount int64, currency, status, fromRef, toRef string) *models.TransactionLog {
	return &models.TransactionLog{
		ID:       uuid.New(),
		Type:     txType,
		Category: category,
		Amount:   amount,
		Currency: currency,
		Status:   status,
		FromRef:  fromRef,
		ToRef:    toRef,
	}
}

func appendLedger(ctx context.Context, st repository.Store, row *models.TransactionLog) error {
	return st.AppendTransactionLog(ctx, row)
}
