package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/fraud"
	"github.com/voyagepay/settlement-engine/internal/gateway"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// PaymentIntentConfig carries the tunables for the intent lifecycle.
type PaymentIntentConfig struct {
	Fees           domain.FeeSchedule
	MinimumAmount  int64
	GatewayTimeout time.Duration
	HoldDurations  HoldDurations
}

// HoldDurations maps delivery urgency tiers to escrow hold windows.
type HoldDurations struct {
	Standard time.Duration
	Express  time.Duration
	Urgent   time.Duration
}

// For returns the hold window for an urgency tier, defaulting to standard.
func (h HoldDurations) For(urgency string) time.Duration {
	switch urgency {
	case domain.UrgencyExpress:
		return h.Express
	case domain.UrgencyUrgent:
		return h.Urgent
	default:
		return h.Standard
	}
}

// PaymentIntentService drives a payment intent from creation through
// confirmation or cancellation. Confirmation opens the escrow account in the
// same transaction that records the success.
type PaymentIntentService struct {
	store    repository.Store
	gateway  gateway.Client
	gate     *fraud.Gate
	notifier notify.Notifier
	cfg      PaymentIntentConfig
}

// NewPaymentIntentService wires the intent service.
func NewPaymentIntentService(store repository.Store, gw gateway.Client, gate *fraud.Gate, notifier notify.Notifier, cfg PaymentIntentConfig) *PaymentIntentService {
	return &PaymentIntentService{store: store, gateway: gw, gate: gate, notifier: notifier, cfg: cfg}
}

// CreateIntentRequest holds the parameters for creating a payment intent.
type CreateIntentRequest struct {
	DeliveryID        uuid.UUID
	CustomerID        uuid.UUID
	TravelerID        *uuid.UUID
	Amount            int64
	Currency          string
	PaymentMethod     string
	IPAddress         string
	BillingCountry    string
	DeviceFingerprint string
}

func (r CreateIntentRequest) validate(minimum int64) error {
	if r.DeliveryID == uuid.Nil {
		return validationf("delivery_id is required")
	}
	if r.CustomerID == uuid.Nil {
		return validationf("customer_id is required")
	}
	if r.Amount < minimum {
		return validationf("amount %d is below the minimum %d", r.Amount, minimum)
	}
	if !domain.SupportedCurrency(r.Currency) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, r.Currency)
	}
	return nil
}

// CreateIntentResponse returns the persisted intent plus the client secret the
// frontend needs to collect the payment method.
type CreateIntentResponse struct {
	Intent       *models.PaymentIntent `json:"intent"`
	ClientSecret string                `json:"client_secret"`
}

// CreateIntent runs the fraud gate, registers the intent with the gateway and
// persists the intent, fraud analysis and opening ledger row atomically. A
// blocked assessment stops the flow before anything is written; a gateway
// failure rolls the whole transaction back.
func (s *PaymentIntentService) CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error) {
	if err := req.validate(s.cfg.MinimumAmount); err != nil {
		return nil, err
	}

	assessment := s.gate.Evaluate(ctx, fraud.Input{
		CustomerID:        req.CustomerID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		PaymentMethod:     req.PaymentMethod,
		IPAddress:         req.IPAddress,
		BillingCountry:    req.BillingCountry,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	s.gate.Record(ctx, fraud.Input{CustomerID: req.CustomerID, Amount: req.Amount})
	observability.RecordFraudDecision(assessment.Recommendation)

	if assessment.Recommendation == domain.RecommendationBlock {
		zap.L().Warn("payment intent blocked by fraud gate",
			zap.String("customer_id", req.CustomerID.String()),
			zap.Float64("risk_score", assessment.Overall))
		return nil, fmt.Errorf("%w: risk score %.2f", ErrFraudBlocked, assessment.Overall)
	}

	fees := domain.ComputeIntentFees(req.Amount, s.cfg.Fees)

	intent := &models.PaymentIntent{
		ID:            uuid.New(),
		DeliveryID:    req.DeliveryID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerID:    req.CustomerID,
		TravelerID:    req.TravelerID,
		PlatformFee:   fees.Platform,
		ProcessingFee: fees.Processing,
		InsuranceFee:  fees.Insurance,
		TotalFees:     fees.Total,
		RiskScore:     assessment.Overall,
		RiskLevel:     assessment.RiskLevel,
	}

	var clientSecret string
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()

		// The gateway charge covers the item amount plus every fee.
		result, err := s.gateway.CreateIntent(gctx, req.Amount+fees.Total, req.Currency, map[string]string{
			"delivery_id": req.DeliveryID.String(),
			"intent_id":   intent.ID.String(),
		})
		if err != nil {
			return fmt.Errorf("%w: create intent: %v", ErrGatewayFailure, err)
		}

		intent.GatewayIntentID = result.GatewayID
		intent.Status = result.Status
		clientSecret = result.ClientSecret

		if err := st.CreatePaymentIntent(ctx, intent); err != nil {
			return err
		}

		analysis := &models.FraudAnalysis{
			ID:              uuid.New(),
			PaymentIntentID: intent.ID,
			MethodScore:     assessment.Method,
			BehaviorScore:   assessment.Behavior,
			AmountScore:     assessment.Amount,
			GeoScore:        assessment.Geo,
			VelocityScore:   assessment.Velocity,
			DeviceScore:     assessment.Device,
			OverallScore:    assessment.Overall,
			RiskLevel:       assessment.RiskLevel,
			Recommendation:  assessment.Recommendation,
			RequiresReview:  assessment.RequiresReview,
		}
		if err := st.CreateFraudAnalysis(ctx, analysis); err != nil {
			return err
		}

		row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryIntentCreated,
			req.Amount+fees.Total, req.Currency, domain.TxStatusPending,
			"customer:"+req.CustomerID.String(), "gateway:"+result.GatewayID)
		row.PaymentIntentID = &intent.ID
		row.GatewayRef = &intent.GatewayIntentID
		return appendLedger(ctx, st, row)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordIntentCreated(intent.Status)
	if assessment.RequiresReview {
		s.notifier.FraudReviewRequired(ctx, intent, assessment.Overall)
	}

	return &CreateIntentResponse{Intent: intent, ClientSecret: clientSecret}, nil
}

// ConfirmIntentRequest holds the parameters for confirming an intent.
type ConfirmIntentRequest struct {
	IntentID      uuid.UUID
	PaymentMethod string
	// Urgency controls the escrow hold window opened on success.
	Urgency string
}

// ConfirmIntent confirms the intent with the gateway under a row lock. On
// success the escrow account opens in the same transaction; a declined charge
// commits the failed intent and ledger row, then reports the decline.
//
// Calling ConfirmIntent on an already-succeeded intent is a no-op that
// returns the stored intent without contacting the gateway.
func (s *PaymentIntentService) ConfirmIntent(ctx context.Context, req ConfirmIntentRequest) (*models.PaymentIntent, error) {
	if req.IntentID == uuid.Nil {
		return nil, validationf("intent_id is required")
	}

	var (
		intent      *models.PaymentIntent
		escrow      *models.EscrowAccount
		declinedErr error
	)
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		var err error
		intent, err = st.GetPaymentIntentForUpdate(ctx, req.IntentID)
		if err != nil {
			return mapNotFound(err)
		}

		if intent.Status == domain.IntentStatusSucceeded {
			return nil // already confirmed, idempotent
		}
		if !domain.CanTransitionIntent(intent.Status, domain.IntentStatusSucceeded) {
			return fmt.Errorf("%w: confirm from %s", ErrInvalidStateTransition, intent.Status)
		}

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		result, err := s.gateway.ConfirmIntent(gctx, intent.GatewayIntentID, req.PaymentMethod)
		if err != nil {
			return fmt.Errorf("%w: confirm intent: %v", ErrGatewayFailure, err)
		}

		switch result.Status {
		case gateway.IntentStatusSucceeded:
			intent.Status = domain.IntentStatusSucceeded
			if err := st.UpdatePaymentIntentStatus(ctx, intent.ID, intent.Status, nil); err != nil {
				return err
			}

			row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryConfirmation,
				intent.Amount+intent.TotalFees, intent.Currency, domain.TxStatusSucceeded,
				"customer:"+intent.CustomerID.String(), "platform")
			row.PaymentIntentID = &intent.ID
			row.GatewayRef = &intent.GatewayIntentID
			if err := appendLedger(ctx, st, row); err != nil {
				return err
			}

			escrow, err = openEscrowTx(ctx, st, intent, s.cfg.HoldDurations.For(req.Urgency))
			return err

		case gateway.IntentStatusFailed:
			reason := result.FailureReason
			intent.Status = domain.IntentStatusFailed
			intent.FailureReason = &reason
			if err := st.UpdatePaymentIntentStatus(ctx, intent.ID, intent.Status, &reason); err != nil {
				return err
			}

			row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryConfirmation,
				intent.Amount+intent.TotalFees, intent.Currency, domain.TxStatusFailed,
				"customer:"+intent.CustomerID.String(), "platform")
			row.PaymentIntentID = &intent.ID
			row.GatewayRef = &intent.GatewayIntentID
			if err := appendLedger(ctx, st, row); err != nil {
				return err
			}

			// Commit the failed attempt, then surface the decline.
			declinedErr = fmt.Errorf("%w: %s", ErrPaymentDeclined, reason)
			return nil

		default:
			// processing / requires_action: record the interim status and
			// let the webhook reconciler finish the lifecycle.
			intent.Status = result.Status
			return st.UpdatePaymentIntentStatus(ctx, intent.ID, intent.Status, nil)
		}
	})
	if err != nil {
		return nil, err
	}
	if declinedErr != nil {
		s.notifier.PaymentFailed(ctx, intent, *intent.FailureReason)
		return nil, declinedErr
	}

	if intent.Status == domain.IntentStatusSucceeded && escrow != nil {
		s.notifier.PaymentSucceeded(ctx, intent)
	}
	return intent, nil
}

// CancelIntent cancels a not-yet-confirmed intent. Cancel of an already
// canceled intent is idempotent.
func (s *PaymentIntentService) CancelIntent(ctx context.Context, intentID uuid.UUID, reason string) (*models.PaymentIntent, error) {
	var intent *models.PaymentIntent
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		var err error
		intent, err = st.GetPaymentIntentForUpdate(ctx, intentID)
		if err != nil {
			return mapNotFound(err)
		}

		if intent.Status == domain.IntentStatusCanceled {
			return nil
		}
		if !domain.IntentCancelable(intent.Status) {
			return fmt.Errorf("%w: cancel from %s", ErrInvalidStateTransition, intent.Status)
		}

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		if _, err := s.gateway.CancelIntent(gctx, intent.GatewayIntentID, reason); err != nil {
			return fmt.Errorf("%w: cancel intent: %v", ErrGatewayFailure, err)
		}

		intent.Status = domain.IntentStatusCanceled
		if err := st.UpdatePaymentIntentStatus(ctx, intent.ID, intent.Status, nil); err != nil {
			return err
		}

		// Nothing was captured before confirmation; the row records the
		// cancellation itself, not a money movement.
		row := ledgerRow(domain.TxTypeCredit, domain.TxCategoryCancellation,
			0, intent.Currency, domain.TxStatusSucceeded,
			"platform", "customer:"+intent.CustomerID.String())
		row.PaymentIntentID = &intent.ID
		row.GatewayRef = &intent.GatewayIntentID
		return appendLedger(ctx, st, row)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.PaymentCanceled(ctx, intent)
	return intent, nil
}

// GetIntent fetches an intent by id.
func (s *PaymentIntentService) GetIntent(ctx context.Context, intentID uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.store.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return intent, nil
}

// IntentLedger lists the append-only transaction log rows for an intent.
func (s *PaymentIntentService) IntentLedger(ctx context.Context, intentID uuid.UUID) ([]models.TransactionLog, error) {
	return s.store.ListTransactionLogsByIntent(ctx, intentID)
}

// FraudAnalysis fetches the stored analysis row for an intent.
func (s *PaymentIntentService) FraudAnalysis(ctx context.Context, intentID uuid.UUID) (*models.FraudAnalysis, error) {
	a, err := s.store.GetFraudAnalysisByIntent(ctx, intentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return a, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
