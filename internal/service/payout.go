package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/gateway"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/notify"
	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

// PayoutConfig carries the tunables for outbound transfers.
type PayoutConfig struct {
	Fees            domain.PayoutFeeSchedule
	MinimumStandard int64
	MinimumInstant  int64
	GatewayTimeout  time.Duration
}

// PayoutService moves money to traveler accounts through the gateway. It is
// used standalone for instant payouts and by the escrow service inside
// release transactions.
type PayoutService struct {
	store    repository.Store
	gateway  gateway.Client
	notifier notify.Notifier
	cfg      PayoutConfig
}

// NewPayoutService wires the payout service.
func NewPayoutService(store repository.Store, gw gateway.Client, notifier notify.Notifier, cfg PayoutConfig) *PayoutService {
	return &PayoutService{store: store, gateway: gw, notifier: notifier, cfg: cfg}
}

// payoutSpec is the internal request for one transfer.
type payoutSpec struct {
	TravelerID      uuid.UUID
	EscrowAccountID *uuid.UUID
	Amount          int64
	Currency        string
	Type            string
}

// processPayoutTx creates and submits a payout inside the caller's
// transaction. On a gateway decline it records the failed payout and ledger
// row and returns ErrPayoutDeclined; the caller decides whether those rows
// commit. A transport error returns as-is and rolls everything back.
//
// The type-specific minimums guard only the standalone ProcessPayout entry
// point; escrow settlements transfer whatever net amount is owed.
func (s *PayoutService) processPayoutTx(ctx context.Context, st repository.Store, spec payoutSpec) (*models.Payout, error) {
	account, err := st.GetPayoutAccountByTraveler(ctx, spec.TravelerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: traveler %s has no payout account", ErrPayoutAccountNotEligible, spec.TravelerID)
		}
		return nil, err
	}
	if !account.CanReceivePayouts() {
		return nil, fmt.Errorf("%w: account %s", ErrPayoutAccountNotEligible, account.ID)
	}

	fee := domain.ComputePayoutFee(spec.Amount, spec.Type, s.cfg.Fees)
	net := spec.Amount - fee
	if net <= 0 {
		return nil, validationf("payout amount %d does not cover the fee %d", spec.Amount, fee)
	}

	// Settle in the destination account's currency.
	transferAmount := net
	transferCurrency := spec.Currency
	if account.Currency != spec.Currency {
		converted, err := domain.Convert(domain.Money{Amount: net, Currency: spec.Currency}, account.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedCurrency, err)
		}
		transferAmount = converted.Amount
		transferCurrency = converted.Currency
	}

	payout := &models.Payout{
		ID:              uuid.New(),
		TravelerID:      spec.TravelerID,
		PayoutAccountID: account.ID,
		EscrowAccountID: spec.EscrowAccountID,
		Amount:          spec.Amount,
		Fee:             fee,
		NetAmount:       net,
		Currency:        spec.Currency,
		Type:            spec.Type,
		Status:          domain.PayoutStatusPending,
	}
	if err := st.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	result, err := s.gateway.CreatePayout(gctx, account.GatewayAccountID, transferAmount, transferCurrency, spec.Type)
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			reason := gerr.Message
			payout.Status = domain.PayoutStatusFailed
			payout.FailureReason = &reason
			if uerr := st.UpdatePayout(ctx, payout); uerr != nil {
				return nil, uerr
			}
			row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryPayout,
				net, spec.Currency, domain.TxStatusFailed,
				"platform", "traveler:"+spec.TravelerID.String())
			row.PayoutID = &payout.ID
			row.EscrowAccountID = spec.EscrowAccountID
			if aerr := appendLedger(ctx, st, row); aerr != nil {
				return nil, aerr
			}
			return payout, fmt.Errorf("%w: %s", ErrPayoutDeclined, gerr.Message)
		}
		return nil, fmt.Errorf("%w: create payout: %v", ErrGatewayFailure, err)
	}

	payout.Status = result.Status
	payout.GatewayPayoutID = &result.GatewayID
	if !result.ArrivalEstimate.IsZero() {
		est := result.ArrivalEstimate
		payout.ArrivalEstimate = &est
	}
	if err := st.UpdatePayout(ctx, payout); err != nil {
		return nil, err
	}

	row := ledgerRow(domain.TxTypeDebit, domain.TxCategoryPayout,
		net, spec.Currency, domain.TxStatusSucceeded,
		"platform", "traveler:"+spec.TravelerID.String())
	row.PayoutID = &payout.ID
	row.EscrowAccountID = spec.EscrowAccountID
	row.GatewayRef = &result.GatewayID
	if err := appendLedger(ctx, st, row); err != nil {
		return nil, err
	}
	return payout, nil
}

// ProcessPayoutRequest holds the parameters for a standalone payout.
type ProcessPayoutRequest struct {
	TravelerID      uuid.UUID
	EscrowAccountID *uuid.UUID
	Amount          int64
	Currency        string
	Type            string
}

func (r ProcessPayoutRequest) validate(cfg PayoutConfig) error {
	if r.TravelerID == uuid.Nil {
		return validationf("traveler_id is required")
	}
	if !domain.SupportedCurrency(r.Currency) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, r.Currency)
	}
	switch r.Type {
	case domain.PayoutTypeStandard:
		if r.Amount < cfg.MinimumStandard {
			return fmt.Errorf("%w: %d < %d", ErrAmountBelowPayoutMinimum, r.Amount, cfg.MinimumStandard)
		}
	case domain.PayoutTypeInstant:
		if r.Amount < cfg.MinimumInstant {
			return fmt.Errorf("%w: %d < %d", ErrAmountBelowPayoutMinimum, r.Amount, cfg.MinimumInstant)
		}
	default:
		return validationf("unknown payout type %q", r.Type)
	}
	return nil
}

// ProcessPayout runs a standalone transfer. A gateway decline commits the
// failed payout and ledger rows so the attempt is auditable, then reports
// ErrPayoutDeclined.
func (s *PayoutService) ProcessPayout(ctx context.Context, req ProcessPayoutRequest) (*models.Payout, error) {
	if err := req.validate(s.cfg); err != nil {
		return nil, err
	}

	var (
		payout      *models.Payout
		declinedErr error
	)
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		var err error
		payout, err = s.processPayoutTx(ctx, st, payoutSpec{
			TravelerID:      req.TravelerID,
			EscrowAccountID: req.EscrowAccountID,
			Amount:          req.Amount,
			Currency:        req.Currency,
			Type:            req.Type,
		})
		if errors.Is(err, ErrPayoutDeclined) {
			declinedErr = err
			return nil // commit the failed rows
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPayoutOutcome(payout.Status)
	s.notifier.PayoutProcessed(ctx, payout)
	if declinedErr != nil {
		return payout, declinedErr
	}
	return payout, nil
}

// RegisterPayoutAccountRequest holds the parameters for onboarding a
// traveler's payout destination.
type RegisterPayoutAccountRequest struct {
	TravelerID       uuid.UUID
	GatewayAccountID string
	Currency         string
	Verified         bool
	PayoutsEnabled   bool
}

// RegisterPayoutAccount records a traveler's gateway account. Registering
// the same traveler twice returns the existing account.
func (s *PayoutService) RegisterPayoutAccount(ctx context.Context, req RegisterPayoutAccountRequest) (*models.PayoutAccount, error) {
	if req.TravelerID == uuid.Nil {
		return nil, validationf("traveler_id is required")
	}
	if req.GatewayAccountID == "" {
		return nil, validationf("gateway_account_id is required")
	}
	if !domain.SupportedCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}

	var account *models.PayoutAccount
	err := s.store.RunInTx(ctx, func(st repository.Store) error {
		existing, err := st.GetPayoutAccountByTraveler(ctx, req.TravelerID)
		if err == nil {
			account = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		account = &models.PayoutAccount{
			ID:               uuid.New(),
			TravelerID:       req.TravelerID,
			GatewayAccountID: req.GatewayAccountID,
			Currency:         req.Currency,
			Verified:         req.Verified,
			Active:           true,
			PayoutsEnabled:   req.PayoutsEnabled,
		}
		return st.CreatePayoutAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetPayout fetches a payout by id.
func (s *PayoutService) GetPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return payout, nil
}

// GetPayoutAccount fetches a traveler's payout account.
func (s *PayoutService) GetPayoutAccount(ctx context.Context, travelerID uuid.UUID) (*models.PayoutAccount, error) {
	account, err := s.store.GetPayoutAccountByTraveler(ctx, travelerID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return account, nil
}
