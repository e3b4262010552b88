package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voyagepay/settlement-engine/internal/service"
)

// PaymentHandler serves the payment intent lifecycle endpoints.
type PaymentHandler struct {
	intents *service.PaymentIntentService
}

// NewPaymentHandler creates a new PaymentHandler instance.
func NewPaymentHandler(intents *service.PaymentIntentService) *PaymentHandler {
	return &PaymentHandler{intents: intents}
}

// CreateIntentRequest is the request body for POST /v1/payment-intents.
type CreateIntentRequest struct {
	DeliveryID        string `json:"delivery_id"`
	CustomerID        string `json:"customer_id"`
	TravelerID        string `json:"traveler_id,omitempty"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	PaymentMethod     string `json:"payment_method"`
	BillingCountry    string `json:"billing_country,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// CreateIntent handles POST /v1/payment-intents.
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	deliveryID, err := uuid.Parse(req.DeliveryID)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_delivery_id", "invalid delivery_id")
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_customer_id", "invalid customer_id")
		return
	}
	var travelerID *uuid.UUID
	if req.TravelerID != "" {
		id, err := uuid.Parse(req.TravelerID)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_traveler_id", "invalid traveler_id")
			return
		}
		travelerID = &id
	}

	resp, err := h.intents.CreateIntent(r.Context(), service.CreateIntentRequest{
		DeliveryID:        deliveryID,
		CustomerID:        customerID,
		TravelerID:        travelerID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		PaymentMethod:     req.PaymentMethod,
		IPAddress:         clientIP(r),
		BillingCountry:    req.BillingCountry,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusCreated, resp)
}

// ConfirmIntentRequest is the request body for the confirm endpoint.
type ConfirmIntentRequest struct {
	PaymentMethod string `json:"payment_method"`
	Urgency       string `json:"urgency,omitempty"`
}

// ConfirmIntent handles POST /v1/payment-intents/{id}/confirm.
func (h *PaymentHandler) ConfirmIntent(w http.ResponseWriter, r *http.Request) {
	intentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ConfirmIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	intent, err := h.intents.ConfirmIntent(r.Context(), service.ConfirmIntentRequest{
		IntentID:      intentID,
		PaymentMethod: req.PaymentMethod,
		Urgency:       req.Urgency,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, intent)
}

// CancelIntentRequest is the request body for the cancel endpoint.
type CancelIntentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelIntent handles POST /v1/payment-intents/{id}/cancel.
func (h *PaymentHandler) CancelIntent(w http.ResponseWriter, r *http.Request) {
	intentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req CancelIntentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
			return
		}
	}

	intent, err := h.intents.CancelIntent(r.Context(), intentID, req.Reason)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, intent)
}

// GetIntent handles GET /v1/payment-intents/{id}.
func (h *PaymentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	intentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	intent, err := h.intents.GetIntent(r.Context(), intentID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, intent)
}

// GetIntentLedger handles GET /v1/payment-intents/{id}/transactions.
func (h *PaymentHandler) GetIntentLedger(w http.ResponseWriter, r *http.Request) {
	intentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	rows, err := h.intents.IntentLedger(r.Context(), intentID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, rows)
}

// GetFraudAnalysis handles GET /v1/payment-intents/{id}/fraud-analysis.
func (h *PaymentHandler) GetFraudAnalysis(w http.ResponseWriter, r *http.Request) {
	intentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	analysis, err := h.intents.FraudAnalysis(r.Context(), intentID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, analysis)
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_id", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
