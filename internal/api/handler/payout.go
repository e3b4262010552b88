package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/voyagepay/settlement-engine/internal/service"
)

// PayoutHandler serves payout and payout account endpoints.
type PayoutHandler struct {
	payouts *service.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(payouts *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

// CreatePayoutRequest is the request body for POST /v1/payouts.
type CreatePayoutRequest struct {
	TravelerID      string `json:"traveler_id"`
	EscrowAccountID string `json:"escrow_account_id,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Type            string `json:"type"`
}

// CreatePayout handles POST /v1/payouts.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	travelerID, err := uuid.Parse(req.TravelerID)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_traveler_id", "invalid traveler_id")
		return
	}
	var escrowID *uuid.UUID
	if req.EscrowAccountID != "" {
		id, err := uuid.Parse(req.EscrowAccountID)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_escrow_account_id", "invalid escrow_account_id")
			return
		}
		escrowID = &id
	}

	payout, err := h.payouts.ProcessPayout(r.Context(), service.ProcessPayoutRequest{
		TravelerID:      travelerID,
		EscrowAccountID: escrowID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Type:            req.Type,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusCreated, payout)
}

// GetPayout handles GET /v1/payouts/{id}.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	payout, err := h.payouts.GetPayout(r.Context(), payoutID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, payout)
}

// RegisterAccountRequest is the request body for POST /v1/payout-accounts.
type RegisterAccountRequest struct {
	TravelerID       string `json:"traveler_id"`
	GatewayAccountID string `json:"gateway_account_id"`
	Currency         string `json:"currency"`
	Verified         bool   `json:"verified"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
}

// RegisterAccount handles POST /v1/payout-accounts.
func (h *PayoutHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	travelerID, err := uuid.Parse(req.TravelerID)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_traveler_id", "invalid traveler_id")
		return
	}

	account, err := h.payouts.RegisterPayoutAccount(r.Context(), service.RegisterPayoutAccountRequest{
		TravelerID:       travelerID,
		GatewayAccountID: req.GatewayAccountID,
		Currency:         req.Currency,
		Verified:         req.Verified,
		PayoutsEnabled:   req.PayoutsEnabled,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusCreated, account)
}

// GetAccount handles GET /v1/payout-accounts/{travelerID}.
func (h *PayoutHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	travelerID, ok := pathUUID(w, r, "travelerID")
	if !ok {
		return
	}

	account, err := h.payouts.GetPayoutAccount(r.Context(), travelerID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, account)
}
