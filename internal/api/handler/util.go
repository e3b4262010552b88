package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voyagepay/settlement-engine/internal/api/middleware"
	"github.com/voyagepay/settlement-engine/internal/api/problem"
	"github.com/voyagepay/settlement-engine/internal/service"
)

// envelope is the uniform response shape for settlement endpoints. Error
// responses carry a stable machine-readable code next to the message.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondData writes a success envelope.
func RespondData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// RespondError writes an error envelope.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

// RespondProblem writes an RFC 7807 response. Used for cross-cutting
// failures (auth, rate limits, panics); domain endpoints use the envelope.
func RespondProblem(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps a service error onto an HTTP error envelope.
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		RespondError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, service.ErrUnsupportedCurrency):
		RespondError(w, http.StatusBadRequest, "unsupported_currency", err.Error())
	case errors.Is(err, service.ErrNotFound):
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrFraudBlocked):
		RespondError(w, http.StatusForbidden, "fraud_blocked", err.Error())
	case errors.Is(err, service.ErrInvalidStateTransition),
		errors.Is(err, service.ErrEscrowNotDisputed):
		RespondError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, service.ErrInsufficientEscrowBalance):
		RespondError(w, http.StatusConflict, "insufficient_escrow_balance", err.Error())
	case errors.Is(err, service.ErrPaymentDeclined):
		RespondError(w, http.StatusPaymentRequired, "payment_declined", err.Error())
	case errors.Is(err, service.ErrPayoutDeclined):
		RespondError(w, http.StatusBadGateway, "payout_declined", err.Error())
	case errors.Is(err, service.ErrPayoutAccountNotEligible):
		RespondError(w, http.StatusConflict, "payout_account_not_eligible", err.Error())
	case errors.Is(err, service.ErrAmountBelowPayoutMinimum):
		RespondError(w, http.StatusBadRequest, "amount_below_minimum", err.Error())
	case errors.Is(err, service.ErrGatewayFailure):
		RespondError(w, http.StatusBadGateway, "gateway_failure", err.Error())
	default:
		if status, code, message, ok := mapDBError(err); ok {
			RespondError(w, status, code, message)
			return
		}
		RespondError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

func mapDBError(err error) (status int, code, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db_unique_violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db_foreign_key_violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db_check_violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db_not_null_violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
