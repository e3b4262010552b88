package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/gateway"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// ReconciliationService audits intents stuck in a non-terminal status by
// asking the gateway for their authoritative state. It covers the window
// where a confirm response or webhook was lost.
type ReconciliationService struct {
	store      repository.Store
	gateway    gateway.Client
	webhooks   *WebhookService
	staleAfter time.Duration
	batch      int32
}

// NewReconciliationService wires the reconciler.
func NewReconciliationService(store repository.Store, gw gateway.Client, webhooks *WebhookService, staleAfter time.Duration, batch int32) *ReconciliationService {
	return &ReconciliationService{
		store:      store,
		gateway:    gw,
		webhooks:   webhooks,
		staleAfter: staleAfter,
		batch:      batch,
	}
}

// ReconcileStaleIntents fetches gateway state for every stale local intent
// and applies any divergence through the same idempotent path webhook events
// take. Returns the number of intents whose status changed.
func (s *ReconciliationService) ReconcileStaleIntents(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePaymentIntents(ctx, time.Now().Add(-s.staleAfter), s.batch)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, intent := range stale {
		result, err := s.gateway.RetrieveIntent(ctx, intent.GatewayIntentID)
		if err != nil {
			zap.L().Warn("reconciliation retrieve failed",
				zap.String("intent_id", intent.ID.String()), zap.Error(err))
			continue
		}

		kind, ok := eventKindForGatewayStatus(result.Status)
		if !ok || result.Status == intent.Status {
			continue
		}

		data, _ := json.Marshal(intentEventData{
			GatewayID:     intent.GatewayIntentID,
			FailureReason: result.FailureReason,
			FailureCode:   result.FailureCode,
		})
		event := Event{ID: "reconcile:" + intent.ID.String(), Type: kind, Data: data}
		if err := s.webhooks.apply(ctx, event); err != nil {
			if errors.Is(err, ErrEventRecordMissing) {
				continue
			}
			zap.L().Error("reconciliation apply failed",
				zap.String("intent_id", intent.ID.String()), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// eventKindForGatewayStatus maps a terminal gateway status onto the webhook
// event kind that applies it. Non-terminal statuses stay untouched; the
// intent simply remains stale until the gateway settles it.
func eventKindForGatewayStatus(status string) (EventKind, bool) {
	switch status {
	case gateway.IntentStatusSucceeded:
		return EventIntentSucceeded, true
	case gateway.IntentStatusFailed:
		return EventIntentFailed, true
	case gateway.IntentStatusCanceled:
		return EventIntentCanceled, true
	}
	return "", false
}
