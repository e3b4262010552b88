package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/service"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler receives gateway event deliveries.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandleGatewayEvent handles POST /v1/webhooks/gateway.
//
// Status codes drive the gateway's redelivery: 2xx acknowledges, 404 asks it
// to retry an event whose local record has not appeared yet, 401 rejects a
// bad signature permanently.
func (h *WebhookHandler) HandleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")
	err = h.webhooks.HandleEvent(r.Context(), payload, signature)
	switch {
	case err == nil:
		RespondData(w, http.StatusOK, map[string]string{"status": "received"})
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
	case errors.Is(err, service.ErrEventRecordMissing):
		RespondError(w, http.StatusNotFound, "record_missing", err.Error())
	case errors.Is(err, service.ErrValidation):
		RespondError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		zap.L().Error("webhook event processing failed", zap.Error(err))
		RespondError(w, http.StatusInternalServerError, "internal_error", "event processing failed")
	}
}
