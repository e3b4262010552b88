package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// EventKind is the closed set of gateway event types the reconciler handles.
type EventKind string

const (
	EventIntentSucceeded EventKind = "payment_intent.succeeded"
	EventIntentFailed    EventKind = "payment_intent.payment_failed"
	EventIntentCanceled  EventKind = "payment_intent.canceled"
	EventPayoutPaid      EventKind = "payout.paid"
	EventPayoutFailed    EventKind = "payout.failed"
	EventAccountUpdated  EventKind = "account.updated"
)

// Event is the envelope the gateway posts to the webhook endpoint.
type Event struct {
	ID   string          `json:"id"`
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type intentEventData struct {
	GatewayID     string `json:"gateway_id"`
	FailureReason string `json:"failure_reason"`
	FailureCode   string `json:"failure_code"`
}

type payoutEventData struct {
	GatewayID     string     `json:"gateway_id"`
	FailureReason string     `json:"failure_reason"`
	ArrivedAt     *time.Time `json:"arrived_at"`
}

type accountEventData struct {
	GatewayID      string `json:"gateway_id"`
	Verified       bool   `json:"verified"`
	Active         bool   `json:"active"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// WebhookService reconciles gateway events against local state. Every
// handler is idempotent: replays of an already-applied event are no-ops, and
// an event for a record the gateway knows but we do not yet is answered with
// ErrEventRecordMissing so the gateway redelivers later.
type WebhookService struct {
	store    repository.Store
	notifier notify.Notifier
	hmacKey  []byte
	skipSig  bool
	// hold window for escrows the reconciler has to open itself when the
	// success event arrives before the confirm response was ever recorded
	holdFor time.Duration
}

// NewWebhookService wires the webhook reconciler.
func NewWebhookService(store repository.Store, notifier notify.Notifier, hmacKey string, skipSignature bool, holdFor time.Duration) *WebhookService {
	return &WebhookService{
		store:    store,
		notifier: notifier,
		hmacKey:  []byte(hmacKey),
		skipSig:  skipSignature,
		holdFor:  holdFor,
	}
}

// VerifySignature checks the HMAC-SHA256 signature over the raw payload.
func (s *WebhookService) VerifySignature(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleEvent verifies and applies one gateway event.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	if !s.VerifySignature(payload, signature) {
		return ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return validationf("invalid event payload: %v", err)
	}

	err := s.apply(ctx, event)
	outcome := "applied"
	if err != nil {
		outcome = "error"
	}
	observability.RecordWebhookEvent(string(event.Type), outcome)
	return err
}

func (s *WebhookService) apply(ctx context.Context, event Event) error {
	switch event.Type {
	case EventIntentSucceeded:
		return s.applyIntentStatus(ctx, event, domain.IntentStatusSucceeded)
	case EventIntentFailed:
		return s.applyIntentStatus(ctx, event, domain.IntentStatusFailed)
	case EventIntentCanceled:
		return s.applyIntentStatus(ctx, event, domain.IntentStatusCanceled)
	case EventPayoutPaid:
		return s.applyPayoutStatus(ctx, event, domain.PayoutStatusPaid)
	case EventPayoutFailed:
		return s.applyPayoutStatus(ctx, event, domain.PayoutStatusFailed)
	case EventAccountUpdated:
		return s.applyAccountUpdate(ctx, event)
	default:
		// Unknown events acknowledge cleanly; the gateway adds types
		// faster than we consume them.
		zap.L().Info("ignoring unhandled webhook event",
			zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *WebhookService) applyIntentStatus(ctx context.Context, event Event, status string) error {
	var data intentEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return validationf("invalid intent event data: %v", err)
	}
	if data.GatewayID == "" {
		return validationf("gateway_id is required")
	}

	var (
		intent *models.PaymentIntent
		opened *models.EscrowAccount
	)
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		var err error
		intent, err = st.GetPaymentIntentByGatewayIDForUpdate(ctx, data.GatewayID)
		if err != nil {
			if err == repository.ErrNotFound {
				// The gateway can deliver the event before our create
				// transaction became visible. 404 makes it retry.
				return fmt.Errorf("%w: intent %s", ErrEventRecordMissing, data.GatewayID)
			}
			return err
		}

		if intent.Status == status {
			return nil // replay
		}
		if domain.IntentTerminal(intent.Status) {
			zap.L().Warn("webhook event for terminal intent ignored",
				zap.String("event_id", event.ID),
				zap.String("intent_id", intent.ID.String()),
				zap.String("local_status", intent.Status),
				zap.String("event_status", status))
			return nil
		}

		var reason *string
		if status == domain.IntentStatusFailed && data.FailureReason != "" {
			reason = &data.FailureReason
			intent.FailureReason = reason
		}
		intent.Status = status
		if err := st.UpdatePaymentIntentStatus(ctx, intent.ID, status, reason); err != nil {
			return err
		}

		if status == domain.IntentStatusSucceeded {
			// The confirm transaction opens the escrow; if it was lost to
			// a crash or timeout, the reconciler opens it here.
			if _, err := st.GetEscrowByPaymentIntent(ctx, intent.ID); err != nil {
				if err != repository.ErrNotFound {
					return err
				}
				opened, err = openEscrowTx(ctx, st, intent, s.holdFor)
				if err != nil {
					return err
				}
			}
		}

		row := ledgerRow(txTypeForStatus(status), domain.TxCategoryReconciliation,
			intent.Amount+intent.TotalFees, intent.Currency, domain.TxStatusSucceeded,
			"gateway:"+data.GatewayID, "intent:"+intent.ID.String())
		row.PaymentIntentID = &intent.ID
		row.GatewayRef = &data.GatewayID
		return appendLedger(ctx, st, row)
	})
	if err != nil {
		return err
	}

	switch status {
	case domain.IntentStatusSucceeded:
		if opened != nil {
			s.notifier.PaymentSucceeded(ctx, intent)
		}
	case domain.IntentStatusFailed:
		s.notifier.PaymentFailed(ctx, intent, data.FailureReason)
	case domain.IntentStatusCanceled:
		s.notifier.PaymentCanceled(ctx, intent)
	}
	return nil
}

func txTypeForStatus(status string) string {
	if status == domain.IntentStatusSucceeded {
		return domain.TxTypeDebit
	}
	return domain.TxTypeCredit
}

func (s *WebhookService) applyPayoutStatus(ctx context.Context, event Event, status string) error {
	var data payoutEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return validationf("invalid payout event data: %v", err)
	}
	if data.GatewayID == "" {
		return validationf("gateway_id is required")
	}

	var payout *models.Payout
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		var err error
		payout, err = st.GetPayoutByGatewayIDForUpdate(ctx, data.GatewayID)
		if err != nil {
			if err == repository.ErrNotFound {
				return fmt.Errorf("%w: payout %s", ErrEventRecordMissing, data.GatewayID)
			}
			return err
		}

		if payout.Status == status {
			return nil // replay
		}
		switch payout.Status {
		case domain.PayoutStatusPaid, domain.PayoutStatusCanceled:
			return nil // terminal
		}

		payout.Status = status
		switch status {
		case domain.PayoutStatusPaid:
			arrived := time.Now()
			if data.ArrivedAt != nil {
				arrived = *data.ArrivedAt
			}
			payout.ArrivedAt = &arrived
		case domain.PayoutStatusFailed:
			if data.FailureReason != "" {
				payout.FailureReason = &data.FailureReason
			}
		}
		if err := st.UpdatePayout(ctx, payout); err != nil {
			return err
		}

		row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryReconciliation,
			payout.NetAmount, payout.Currency, domain.TxStatusSucceeded,
			"gateway:"+data.GatewayID, "payout:"+payout.ID.String())
		row.PayoutID = &payout.ID
		row.GatewayRef = &data.GatewayID
		return appendLedger(ctx, st, row)
	})
	if err != nil {
		return err
	}

	observability.RecordPayoutOutcome(status)
	s.notifier.PayoutProcessed(ctx, payout)
	return nil
}

func (s *WebhookService) applyAccountUpdate(ctx context.Context, event Event) error {
	var data accountEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return validationf("invalid account event data: %v", err)
	}
	if data.GatewayID == "" {
		return validationf("gateway_id is required")
	}

	return s.store.RunInTx(ctx, func(st repository.Store) error {
		account, err := st.GetPayoutAccountByGatewayID(ctx, data.GatewayID)
		if err != nil {
			if err == repository.ErrNotFound {
				return fmt.Errorf("%w: account %s", ErrEventRecordMissing, data.GatewayID)
			}
			return err
		}

		if account.Verified == data.Verified &&
			account.Active == data.Active &&
			account.PayoutsEnabled == data.PayoutsEnabled {
			return nil // replay
		}

		account.Verified = data.Verified
		account.Active = data.Active
		account.PayoutsEnabled = data.PayoutsEnabled
		return st.UpdatePayoutAccount(ctx, account)
	})
}
